package model

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/lesion-api/internal/labels"
	"github.com/Brownie44l1/lesion-api/internal/tensor"
)

type fakeSession struct {
	out    []float32
	err    error
	last   []float32
	runs   int
	closed bool
}

func (s *fakeSession) Run(input []float32) ([]float32, error) {
	s.runs++
	s.last = append(s.last[:0], input...)
	return s.out, s.err
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cancer_cnn_model.onnx")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeMetadata(t *testing.T, dir string, meta any) string {
	t.Helper()
	raw, err := json.Marshal(meta)
	require.NoError(t, err)
	path := filepath.Join(dir, "cancer_cnn_model.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func countingOpener(calls *int32, session Session) Opener {
	return func(string, Metadata) (Session, error) {
		atomic.AddInt32(calls, 1)
		return session, nil
	}
}

func TestLoadReturnsSameInstance(t *testing.T) {
	var calls int32
	loader := NewLoader(LoaderOptions{
		ModelPath: writeArtifact(t, "weights"),
		Opener:    countingOpener(&calls, &fakeSession{out: []float32{0.1, 0.9}}),
	})

	first, err := loader.Load()
	require.NoError(t, err)
	second, err := loader.Load()
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, int32(1), calls)
	require.Equal(t, digest.FromString("weights"), first.Digest)
	require.Equal(t, DefaultMetadata(), first.Metadata)
}

func TestConcurrentLoadRunsOnce(t *testing.T) {
	var calls int32
	loader := NewLoader(LoaderOptions{
		ModelPath: writeArtifact(t, "weights"),
		Opener:    countingOpener(&calls, &fakeSession{}),
	})

	const n = 16
	models := make([]*Model, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			models[i], errs[i] = loader.Load()
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), calls)
	for i, m := range models {
		require.NoError(t, errs[i])
		require.Same(t, models[0], m)
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	var calls int32
	loader := NewLoader(LoaderOptions{
		ModelPath: filepath.Join(t.TempDir(), "missing.onnx"),
		Opener:    countingOpener(&calls, &fakeSession{}),
	})
	_, err := loader.Load()
	require.ErrorIs(t, err, ErrLoad)
	require.Zero(t, calls)

	_, again := loader.Load()
	require.Equal(t, err, again)
}

func TestLoadOpenerFailure(t *testing.T) {
	boom := errors.New("corrupt protobuf")
	loader := NewLoader(LoaderOptions{
		ModelPath: writeArtifact(t, "garbage"),
		Opener: func(string, Metadata) (Session, error) {
			return nil, boom
		},
	})
	_, err := loader.Load()
	require.ErrorIs(t, err, ErrLoad)
	require.ErrorIs(t, err, boom)
}

func TestLoadReadsMetadata(t *testing.T) {
	modelPath := writeArtifact(t, "weights")
	meta := DefaultMetadata()
	meta.InputName = "conv2d_input"
	meta.Digest = digest.FromString("weights").String()
	metaPath := writeMetadata(t, filepath.Dir(modelPath), meta)

	var seen Metadata
	loader := NewLoader(LoaderOptions{
		ModelPath:    modelPath,
		MetadataPath: metaPath,
		Opener: func(_ string, m Metadata) (Session, error) {
			seen = m
			return &fakeSession{}, nil
		},
	})
	m, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "conv2d_input", seen.InputName)
	require.Equal(t, "output", seen.OutputName)
	require.Equal(t, meta, m.Metadata)
}

func TestLoadRejectsBadMetadata(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(m map[string]any)
		is     error
	}{
		{"channels first", func(m map[string]any) { m["input_shape"] = []int64{1, 3, 170, 170} }, ErrShapeMismatch},
		{"three classes", func(m map[string]any) { m["output_shape"] = []int64{1, 3} }, ErrShapeMismatch},
		{"image size", func(m map[string]any) { m["image_size"] = 224 }, ErrShapeMismatch},
		{"swapped classes", func(m map[string]any) { m["classes"] = []string{"Cancerous", "Non-cancerous"} }, ErrLoad},
		{"digest mismatch", func(m map[string]any) { m["digest"] = digest.FromString("other").String() }, ErrLoad},
		{"bad digest", func(m map[string]any) { m["digest"] = "sha256:xyz" }, ErrLoad},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			modelPath := writeArtifact(t, "weights")
			raw := map[string]any{
				"input_shape":  tensor.InputShape,
				"output_shape": tensor.OutputShape,
				"classes":      []string(labels.Default),
				"image_size":   170,
			}
			tc.mutate(raw)
			loader := NewLoader(LoaderOptions{
				ModelPath:    modelPath,
				MetadataPath: writeMetadata(t, filepath.Dir(modelPath), raw),
				Opener: func(string, Metadata) (Session, error) {
					return &fakeSession{}, nil
				},
			})
			_, err := loader.Load()
			require.ErrorIs(t, err, ErrLoad)
			require.ErrorIs(t, err, tc.is)
		})
	}
}

func TestLoadCorruptMetadata(t *testing.T) {
	modelPath := writeArtifact(t, "weights")
	metaPath := filepath.Join(filepath.Dir(modelPath), "meta.json")
	require.NoError(t, os.WriteFile(metaPath, []byte("{not json"), 0o644))

	loader := NewLoader(LoaderOptions{ModelPath: modelPath, MetadataPath: metaPath, Opener: func(string, Metadata) (Session, error) {
		return &fakeSession{}, nil
	}})
	_, err := loader.Load()
	require.ErrorIs(t, err, ErrLoad)
}

func newTestModel(session Session) *Model {
	return &Model{Metadata: DefaultMetadata(), session: session}
}

func TestPredict(t *testing.T) {
	session := &fakeSession{out: []float32{0.25, 0.75}}
	m := newTestModel(session)

	in := new(tensor.Input)
	in[tensor.Offset(0, 0, 0)] = 1
	scores, err := m.Predict(in)
	require.NoError(t, err)
	require.Equal(t, tensor.Scores{0.25, 0.75}, scores)
	require.Len(t, session.last, tensor.InputLen)
	require.Equal(t, float32(1), session.last[0])

	session.out[0] = 9
	require.Equal(t, float32(0.25), scores[0])
}

func TestPredictShapeMismatch(t *testing.T) {
	m := newTestModel(&fakeSession{out: []float32{0.1, 0.2, 0.7}})
	_, err := m.Predict(new(tensor.Input))
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = m.Predict(nil)
	require.ErrorIs(t, err, ErrShapeMismatch)

	m = newTestModel(&fakeSession{out: []float32{0.1, 0.9}})
	m.Metadata.InputShape = []int64{1, 3, 170, 170}
	_, err = m.Predict(new(tensor.Input))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPredictRunError(t *testing.T) {
	boom := errors.New("runtime failure")
	m := newTestModel(&fakeSession{err: boom})
	_, err := m.Predict(new(tensor.Input))
	require.ErrorIs(t, err, boom)
}

func TestClose(t *testing.T) {
	session := &fakeSession{out: []float32{0, 1}}
	m := newTestModel(session)
	require.NoError(t, m.Close())
	require.True(t, session.closed)
	require.NoError(t, m.Close())

	_, err := m.Predict(new(tensor.Input))
	require.ErrorIs(t, err, ErrClosed)
}
