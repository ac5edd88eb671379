package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestSaveAndRead_RoundTrip(t *testing.T) {
	s := newStore(t)

	rel, err := s.Save("checkups/1/a.png", bytes.NewReader([]byte("image bytes")))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rel != "checkups/1/a.png" {
		t.Fatalf("rel = %q, want the path as given", rel)
	}

	got, err := s.Read(rel)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "image bytes" {
		t.Fatalf("content = %q", got)
	}

	// No temp-file droppings left beside the destination.
	entries, err := os.ReadDir(filepath.Join(s.Root(), "checkups", "1"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("directory holds %d entries, want 1", len(entries))
	}
}

func TestSave_NeutralizesEscapingPaths(t *testing.T) {
	s := newStore(t)

	for _, rel := range []string{"", "."} {
		if _, err := s.Save(rel, bytes.NewReader([]byte("x"))); err == nil {
			t.Fatalf("Save(%q) accepted an empty path", rel)
		}
	}

	// Leading ../ sequences are stripped, so the write lands inside the
	// root instead of escaping it.
	if _, err := s.Save("../outside.txt", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("Save(../outside.txt): %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "outside.txt")); err != nil {
		t.Fatalf("expected the write inside the root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(s.Root()), "outside.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("a write escaped the storage root")
	}

	// A cleaned-but-inside path is fine.
	if _, err := s.Save("a/./b.txt", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("Save(a/./b.txt): %v", err)
	}
}

func TestRead_MissingFile_ReturnsErrNotFound(t *testing.T) {
	s := newStore(t)

	if _, err := s.Read("nope/missing.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRemove_MissingFile_IsNoop(t *testing.T) {
	s := newStore(t)

	if err := s.Remove("never/was.png"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	rel, _ := s.SaveBytes("x/y.bin", []byte("data"))
	if err := s.Remove(rel); err != nil {
		t.Fatalf("Remove existing: %v", err)
	}
	if _, err := s.Read(rel); !errors.Is(err, ErrNotFound) {
		t.Fatalf("file still readable after Remove: %v", err)
	}
}

func TestCheckupImagePath_SanitizesAndStaysUnique(t *testing.T) {
	p1 := CheckupImagePath(7, "../../evil name?.png")
	if !strings.HasPrefix(p1, "checkups/7/") {
		t.Fatalf("path = %q, want it scoped under checkups/7/", p1)
	}
	if strings.Contains(p1, "..") || strings.Contains(p1, "?") || strings.Contains(p1, " ") {
		t.Fatalf("path = %q, unsafe characters survived", p1)
	}

	p2 := CheckupImagePath(7, "../../evil name?.png")
	if p1 == p2 {
		t.Fatal("same-named uploads must get distinct paths")
	}
}

func TestPathHelpers_Shapes(t *testing.T) {
	if got := HeatmapPath(3, 9); got != "heatmaps/checkup_3_sample_9.png" {
		t.Fatalf("HeatmapPath = %q", got)
	}
	if got := BiopsyDocPath("ab12cd34", "report.pdf"); got != "biopsies/ab12cd34_report.pdf" {
		t.Fatalf("BiopsyDocPath = %q", got)
	}
	// An unusable filename degrades to a placeholder instead of failing.
	if got := BiopsyDocPath("ab12cd34", "...."); got != "biopsies/ab12cd34_file" {
		t.Fatalf("BiopsyDocPath empty name = %q", got)
	}
}
