package model

import (
	"github.com/Brownie44l1/lesion-api/internal/labels"
	"github.com/Brownie44l1/lesion-api/internal/tensor"
)

// Metadata describes the model artifact. It is read from a JSON file that
// sits next to the artifact.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	// Digest pins the artifact contents, e.g. "sha256:<hex>". Optional.
	Digest string `json:"digest,omitempty"`
}

// DefaultMetadata matches the skin lesion classifier when no metadata file
// is shipped with it.
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  append([]int64(nil), tensor.InputShape...),
		OutputShape: append([]int64(nil), tensor.OutputShape...),
		Classes:     append([]string(nil), labels.Default...),
		ImageSize:   tensor.Height,
		InputName:   "input",
		OutputName:  "output",
	}
}

func (m *Metadata) applyDefaults() {
	def := DefaultMetadata()
	if len(m.InputShape) == 0 {
		m.InputShape = def.InputShape
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = def.OutputShape
	}
	if m.ImageSize == 0 {
		m.ImageSize = def.ImageSize
	}
	if m.InputName == "" {
		m.InputName = def.InputName
	}
	if m.OutputName == "" {
		m.OutputName = def.OutputName
	}
}
