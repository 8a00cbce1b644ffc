package main

import (
	"os"

	"github.com/gomlx/gokmeans"
	"github.com/pkg/errors"
)

// loadModel reads a model saved with -save.
func loadModel(path string) (*gokmeans.Model, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model file")
	}
	model := &gokmeans.Model{}
	if err := model.UnmarshalBinary(encoded); err != nil {
		return nil, errors.WithMessagef(err, "while loading model from %q", path)
	}
	return model, nil
}
