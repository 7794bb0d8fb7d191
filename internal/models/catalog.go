// Package models knows which whisper model variants the server accepts and
// where their weight files live on disk.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrUnknownModel is returned for identifiers outside the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Model describes one supported variant.
type Model struct {
	ID          string
	Description string
	// File is the ggml weight file name used by whisper.cpp.
	File   string
	SizeMB int
}

// Catalog lists the supported variants, smallest first.
var Catalog = []Model{
	{ID: "tiny", Description: "Fastest, least accurate (~39M parameters)", File: "ggml-tiny.bin", SizeMB: 75},
	{ID: "base", Description: "Good balance of speed and accuracy (~74M parameters)", File: "ggml-base.bin", SizeMB: 142},
	{ID: "small", Description: "Better accuracy, still fast (~244M parameters)", File: "ggml-small.bin", SizeMB: 466},
	{ID: "medium", Description: "High accuracy (~769M parameters)", File: "ggml-medium.bin", SizeMB: 1500},
	// "large" tracks the newest large release.
	{ID: "large", Description: "Best accuracy, slowest (~1550M parameters)", File: "ggml-large-v3.bin", SizeMB: 2900},
	{ID: "large-v2", Description: "Improved large model (recommended for production)", File: "ggml-large-v2.bin", SizeMB: 2900},
	{ID: "large-v3", Description: "Latest large model with best overall performance", File: "ggml-large-v3.bin", SizeMB: 2900},
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (Model, bool) {
	for _, m := range Catalog {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// IDs returns the supported identifiers in catalog order.
func IDs() []string {
	ids := make([]string, len(Catalog))
	for i, m := range Catalog {
		ids[i] = m.ID
	}
	return ids
}

// Descriptions maps each identifier to its human description.
func Descriptions() map[string]string {
	out := make(map[string]string, len(Catalog))
	for _, m := range Catalog {
		out[m.ID] = m.Description
	}
	return out
}

// Path returns where the weights for id are expected under dir.
func Path(dir, id string) (string, error) {
	m, ok := Lookup(id)
	if !ok {
		return "", fmt.Errorf("models: %q: %w", id, ErrUnknownModel)
	}
	return filepath.Join(dir, m.File), nil
}

// Installed reports whether a non-empty weight file for id exists under dir.
func Installed(dir, id string) bool {
	p, err := Path(dir, id)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Size() > 0
}
