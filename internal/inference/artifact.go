// Package inference – model artifact resolution.
//
// Deployments ship the trained classifier in several on-disk shapes
// depending on how it was exported: a TensorFlow SavedModel directory, a
// Keras v3 .keras file, a legacy HDF5 .h5/.hdf5 file, or a weights-only
// export. The resolver tries each recognizer in order and only fails when
// none matches, with an error that tells the operator exactly what to fix.
package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactKind names the recognized on-disk model shapes.
type ArtifactKind string

const (
	ArtifactSavedModel ArtifactKind = "saved_model"
	ArtifactKerasV3    ArtifactKind = "keras_v3"
	ArtifactHDF5       ArtifactKind = "hdf5"
	ArtifactWeights    ArtifactKind = "weights_only"
)

// Artifact describes a resolved model artifact ready to hand to the scoring
// runtime.
type Artifact struct {
	Kind ArtifactKind
	Path string
}

// ErrBadArtifact wraps every resolution failure. It is a caller error: the
// worker must not retry it.
var ErrBadArtifact = errors.New("unusable model artifact")

// ResolveArtifact identifies the model artifact at path, attempting each
// known shape in order: SavedModel directory, .keras, .h5/.hdf5, then
// weights-only exports. The returned error on total failure is actionable
// for operators.
func ResolveArtifact(path string) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: model artifact not found at %s", ErrBadArtifact, path)
	}

	if info.IsDir() {
		// SavedModel directory expected.
		if _, err := os.Stat(filepath.Join(path, "saved_model.pb")); err != nil {
			return Artifact{}, fmt.Errorf(
				"%w: directory at %s does not contain a SavedModel (missing saved_model.pb); "+
					"provide a TensorFlow SavedModel directory or a .keras/.h5 file", ErrBadArtifact, path)
		}
		return Artifact{Kind: ArtifactSavedModel, Path: path}, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".keras":
		if strings.Contains(strings.ToLower(filepath.Base(path)), "weights") {
			return Artifact{Kind: ArtifactWeights, Path: path}, nil
		}
		return Artifact{Kind: ArtifactKerasV3, Path: path}, nil
	case ".h5", ".hdf5":
		if strings.Contains(strings.ToLower(filepath.Base(path)), "weights") {
			return Artifact{Kind: ArtifactWeights, Path: path}, nil
		}
		return Artifact{Kind: ArtifactHDF5, Path: path}, nil
	}

	return Artifact{}, fmt.Errorf(
		"%w: unsupported model artifact %s; expected a SavedModel directory, `.keras`, or `.h5`/`.hdf5` file. "+
			"If the model was exported weights-only, name the file with a `weights` suffix "+
			"(e.g. best_model_weights.h5) and set MODEL_PATH accordingly", ErrBadArtifact, path)
}
