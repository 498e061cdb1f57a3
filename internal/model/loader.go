package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/labels"
	"github.com/Brownie44l1/lesion-api/internal/tensor"
)

// Opener turns a model artifact into a runnable Session.
type Opener func(modelPath string, meta Metadata) (Session, error)

type LoaderOptions struct {
	ModelPath    string
	MetadataPath string
	// Labels is the table the model's classes must line up with.
	Labels labels.Table
	// Opener defaults to ONNXOpener("").
	Opener Opener
	Logger *zap.Logger
}

// Loader loads the model artifact at most once. Every call to Load returns
// the same *Model (or the same error).
type Loader struct {
	opts LoaderOptions

	once  sync.Once
	model *Model
	err   error
}

func NewLoader(opts LoaderOptions) *Loader {
	if opts.Labels == nil {
		opts.Labels = labels.Default
	}
	if opts.Opener == nil {
		opts.Opener = ONNXOpener("")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Loader{opts: opts}
}

func (l *Loader) Load() (*Model, error) {
	l.once.Do(func() {
		l.model, l.err = l.load()
		if l.err != nil {
			l.err = fmt.Errorf("%w: %w", ErrLoad, l.err)
		}
	})
	return l.model, l.err
}

func (l *Loader) load() (*Model, error) {
	meta, err := readMetadata(l.opts.MetadataPath)
	if err != nil {
		return nil, err
	}
	if err := validateMetadata(meta, l.opts.Labels); err != nil {
		return nil, err
	}

	dgst, err := fileDigest(l.opts.ModelPath)
	if err != nil {
		return nil, err
	}
	if meta.Digest != "" {
		want, err := digest.Parse(meta.Digest)
		if err != nil {
			return nil, fmt.Errorf("invalid digest in metadata: %w", err)
		}
		if want.Algorithm() != dgst.Algorithm() {
			if dgst, err = fileDigestWith(l.opts.ModelPath, want.Algorithm()); err != nil {
				return nil, err
			}
		}
		if want != dgst {
			return nil, fmt.Errorf("artifact digest %s does not match %s", dgst, want)
		}
	}

	session, err := l.opts.Opener(l.opts.ModelPath, meta)
	if err != nil {
		return nil, err
	}

	l.opts.Logger.Info("model loaded",
		zap.String("path", l.opts.ModelPath),
		zap.String("digest", dgst.String()),
		zap.Int64s("input_shape", meta.InputShape),
		zap.Strings("classes", meta.Classes),
	)
	return &Model{Metadata: meta, Digest: dgst, session: session}, nil
}

// readMetadata falls back to DefaultMetadata when path is empty or missing.
func readMetadata(path string) (Metadata, error) {
	if path == "" {
		return DefaultMetadata(), nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultMetadata(), nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	meta.applyDefaults()
	return meta, nil
}

func validateMetadata(meta Metadata, table labels.Table) error {
	if !tensor.SameShape(meta.InputShape, tensor.InputShape) {
		return fmt.Errorf("%w: input shape %v, want %v", ErrShapeMismatch, meta.InputShape, tensor.InputShape)
	}
	if !tensor.SameShape(meta.OutputShape, tensor.OutputShape) {
		return fmt.Errorf("%w: output shape %v, want %v", ErrShapeMismatch, meta.OutputShape, tensor.OutputShape)
	}
	if meta.ImageSize != tensor.Height {
		return fmt.Errorf("%w: image size %d, want %d", ErrShapeMismatch, meta.ImageSize, tensor.Height)
	}
	if len(table) != tensor.Classes {
		return fmt.Errorf("label table has %d entries, model has %d classes", len(table), tensor.Classes)
	}
	if len(meta.Classes) == 0 {
		return nil
	}
	if !table.Equal(meta.Classes) {
		return fmt.Errorf("model classes %q do not match label table %q", meta.Classes, []string(table))
	}
	return nil
}

func fileDigest(path string) (digest.Digest, error) {
	return fileDigestWith(path, digest.Canonical)
}

func fileDigestWith(path string, alg digest.Algorithm) (digest.Digest, error) {
	if !alg.Available() {
		return "", fmt.Errorf("digest algorithm %s is not available", alg)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open model: %w", err)
	}
	defer f.Close()

	dgst, err := alg.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to read model: %w", err)
	}
	return dgst, nil
}
