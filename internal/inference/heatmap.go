package inference

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math"
)

// Occlusion grid used for the explanation map. A coarser grid keeps the
// number of extra forward passes per image bounded (gridSize^2).
const heatmapGrid = 6

// OcclusionHeatmap renders a sensitivity overlay for img: each cell of a
// gridSize x gridSize grid is masked with mid gray, the image is re-scored,
// and the drop relative to baseScore becomes the cell's heat. Cells whose
// occlusion lowers the malignancy score the most glow hottest. The overlay
// is rendered at the scorer's input resolution.
func OcclusionHeatmap(ctx context.Context, scorer Scorer, img image.Image, size int, baseScore float64) (image.Image, error) {
	base := ResizeSquare(img, size)
	cell := size / heatmapGrid

	heat := make([][]float64, heatmapGrid)
	maxDelta := 0.0
	for gy := 0; gy < heatmapGrid; gy++ {
		heat[gy] = make([]float64, heatmapGrid)
		for gx := 0; gx < heatmapGrid; gx++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			occluded := occludeCell(base, gx*cell, gy*cell, cell)
			score, err := scorer.Score(ctx, occluded)
			if err != nil {
				return nil, err
			}
			score, err = NormalizeScore(score)
			if err != nil {
				return nil, err
			}
			delta := baseScore - score
			if delta < 0 {
				delta = 0
			}
			heat[gy][gx] = delta
			if delta > maxDelta {
				maxDelta = delta
			}
		}
	}

	out := image.NewRGBA(base.Bounds())
	draw.Draw(out, out.Bounds(), base, base.Bounds().Min, draw.Src)
	if maxDelta == 0 {
		return out, nil
	}

	for y := 0; y < size; y++ {
		gy := min(y/cell, heatmapGrid-1)
		for x := 0; x < size; x++ {
			gx := min(x/cell, heatmapGrid-1)
			t := heat[gy][gx] / maxDelta
			if t <= 0 {
				continue
			}
			r, g, b := jet(t)
			cr, cg, cb, _ := out.At(x, y).RGBA()
			// 60/40 blend keeps the lesion visible under the overlay.
			out.SetRGBA(x, y, color.RGBA{
				R: blend(uint8(cr>>8), r, t*0.6),
				G: blend(uint8(cg>>8), g, t*0.6),
				B: blend(uint8(cb>>8), b, t*0.6),
				A: 255,
			})
		}
	}
	return out, nil
}

func occludeCell(src *image.RGBA, x, y, cell int) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	gray := image.NewUniform(color.RGBA{R: 128, G: 128, B: 128, A: 255})
	draw.Draw(dst, image.Rect(x, y, x+cell, y+cell), gray, image.Point{}, draw.Src)
	return dst
}

// jet maps t in [0,1] onto the classic blue-to-red colormap.
func jet(t float64) (uint8, uint8, uint8) {
	clamp := func(v float64) uint8 {
		v = math.Max(0, math.Min(1, v))
		return uint8(v * 255)
	}
	return clamp(1.5 - math.Abs(4*t-3)),
		clamp(1.5 - math.Abs(4*t-2)),
		clamp(1.5 - math.Abs(4*t-1))
}

func blend(base, over uint8, alpha float64) uint8 {
	return uint8(float64(base)*(1-alpha) + float64(over)*alpha)
}
