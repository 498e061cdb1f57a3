package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/Brownie44l1/lesion-api/internal/tensor"
)

var (
	ErrLoad          = errors.New("cannot load model")
	ErrShapeMismatch = errors.New("tensor shape mismatch")
	ErrClosed        = errors.New("model is closed")
)

// Session runs a loaded model artifact. Implementations are not required to
// be safe for concurrent use.
type Session interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Model is a loaded classifier ready to run.
type Model struct {
	Metadata Metadata
	// Digest is the content digest of the artifact that was loaded.
	Digest digest.Digest

	mu      sync.Mutex
	session Session
}

// Predict runs the model on a preprocessed input and returns one score per
// class. Calls are serialized because the session reuses its tensors.
func (m *Model) Predict(in *tensor.Input) (tensor.Scores, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil input", ErrShapeMismatch)
	}
	// Loader rejects other shapes; this covers Models assembled elsewhere.
	if !tensor.SameShape(m.Metadata.InputShape, tensor.InputShape) {
		return nil, fmt.Errorf("%w: model expects input %v, got %v", ErrShapeMismatch, m.Metadata.InputShape, tensor.InputShape)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrClosed
	}

	out, err := m.session.Run(in.Data())
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(out) != tensor.Classes {
		return nil, fmt.Errorf("%w: model returned %d scores, want %d", ErrShapeMismatch, len(out), tensor.Classes)
	}
	return tensor.Scores(append([]float32(nil), out...)), nil
}

// Close releases the session. It is safe to call more than once.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	return err
}
