// Package classifier runs an uploaded image through preprocessing, the model
// and the label table.
package classifier

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/labels"
	"github.com/Brownie44l1/lesion-api/internal/preprocess"
	"github.com/Brownie44l1/lesion-api/internal/tensor"
)

var ErrUnsupportedInput = errors.New("unsupported file type")

// AcceptedExtensions lists the upload types the classifier will look at.
var AcceptedExtensions = []string{".jpg", ".png", ".jpeg"}

// Predictor produces one score per class for a preprocessed image.
type Predictor interface {
	Predict(in *tensor.Input) (tensor.Scores, error)
}

type Result struct {
	Label  string
	Index  int
	Scores tensor.Scores
	// Format is the decoded image format, "jpeg" or "png".
	Format string
	Digest digest.Digest
	Cached bool
}

type Options struct {
	Interpolation string
	// CacheSize is the number of results kept by upload digest. Zero disables
	// the cache.
	CacheSize int
	Logger    *zap.Logger
}

type Classifier struct {
	predictor Predictor
	table     labels.Table
	pre       *preprocess.Preprocessor
	cache     *lru.Cache[digest.Digest, Result]
	logger    *zap.Logger
}

func New(predictor Predictor, table labels.Table, opts Options) (*Classifier, error) {
	pre, err := preprocess.New(opts.Interpolation)
	if err != nil {
		return nil, err
	}
	c := &Classifier{
		predictor: predictor,
		table:     table,
		pre:       pre,
		logger:    opts.Logger,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if opts.CacheSize > 0 {
		if c.cache, err = lru.New[digest.Digest, Result](opts.CacheSize); err != nil {
			return nil, fmt.Errorf("result cache: %w", err)
		}
	}
	return c, nil
}

// Accepts reports whether filename has one of the AcceptedExtensions.
func Accepts(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, accepted := range AcceptedExtensions {
		if ext == accepted {
			return true
		}
	}
	return false
}

// Classify predicts the label of an uploaded image. Files outside
// AcceptedExtensions are rejected before any decoding happens.
func (c *Classifier) Classify(filename string, data []byte) (*Result, error) {
	if !Accepts(filename) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedInput, filepath.Ext(filename))
	}

	dgst := digest.FromBytes(data)
	if c.cache != nil {
		if res, ok := c.cache.Get(dgst); ok {
			res.Cached = true
			res.Scores = append(tensor.Scores(nil), res.Scores...)
			return &res, nil
		}
	}

	img, format, err := preprocess.Decode(data)
	if err != nil {
		return nil, err
	}
	in := c.pre.Tensor(img)

	scores, err := c.predictor.Predict(in)
	if err != nil {
		return nil, err
	}
	label, idx, err := c.table.Map(scores)
	if err != nil {
		return nil, err
	}

	res := Result{
		Label:  label,
		Index:  idx,
		Scores: scores,
		Format: format,
		Digest: dgst,
	}
	c.logger.Debug("image classified",
		zap.String("file", filename),
		zap.String("digest", dgst.String()),
		zap.String("label", label),
		zap.Float32s("scores", scores),
	)
	if c.cache != nil {
		cached := res
		cached.Scores = append(tensor.Scores(nil), scores...)
		c.cache.Add(dgst, cached)
	}
	return &res, nil
}
