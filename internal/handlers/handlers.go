package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/classifier"
	"github.com/Brownie44l1/lesion-api/internal/preprocess"
)

// Classifier maps an uploaded file to a label.
type Classifier interface {
	Classify(filename string, data []byte) (*classifier.Result, error)
}

type Options struct {
	MaxUploadBytes int64
	// CORSOrigins defaults to any origin.
	CORSOrigins []string
	Logger      *zap.Logger
}

type Handler struct {
	classifier Classifier
	maxUpload  int64
	origins    []string
	logger     *zap.Logger
}

const formMemory = 32 << 20

func NewHandler(c Classifier, opts Options) *Handler {
	h := &Handler{
		classifier: c,
		maxUpload:  opts.MaxUploadBytes,
		origins:    opts.CORSOrigins,
		logger:     opts.Logger,
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 200 << 20
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Routes returns the router wrapped in CORS, panic recovery and access logging.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(h.Health)
	r.Methods(http.MethodGet).Path("/").HandlerFunc(h.Index)
	r.Methods(http.MethodPost).Path("/").HandlerFunc(h.Predict)

	var cors []handlers.CORSOption
	if len(h.origins) > 0 {
		cors = append(cors, handlers.AllowedOrigins(h.origins))
	}
	cors = append(cors,
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	var handler http.Handler = r
	handler = handlers.CORS(cors...)(handler)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(h.logger)),
		handlers.PrintRecoveryStack(true),
	)(handler)
	return handlers.CustomLoggingHandler(io.Discard, handler, h.logRequest)
}

func (h *Handler) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	h.logger.Info("request",
		zap.String("method", p.Request.Method),
		zap.String("path", p.URL.Path),
		zap.Int("status", p.StatusCode),
		zap.Int("size", p.Size),
		zap.Time("time", p.TimeStamp),
	)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// Index renders the empty upload form.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, page{})
}

// Predict classifies the uploaded file. A request without a file renders
// the form again with no result.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, http.ErrNotMultipart):
			h.render(w, http.StatusOK, page{})
		case errors.As(err, &tooLarge):
			h.render(w, http.StatusRequestEntityTooLarge, page{Message: "The image is too large, please upload a smaller file."})
		default:
			h.render(w, http.StatusBadRequest, page{Message: "Failed to read the upload, please try again."})
		}
		return
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		h.render(w, http.StatusOK, page{})
		return
	}
	if err != nil {
		h.render(w, http.StatusBadRequest, page{Message: "Failed to read the upload, please try again."})
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		h.render(w, http.StatusBadRequest, page{Message: "Failed to read the upload, please try again."})
		return
	}

	result, err := h.classifier.Classify(header.Filename, buf.Bytes())
	if err != nil {
		h.handleError(w, header.Filename, err)
		return
	}

	h.logger.Info("prediction",
		zap.String("file", header.Filename),
		zap.Int64("size", header.Size),
		zap.String("label", result.Label),
		zap.Bool("cached", result.Cached),
	)
	h.render(w, http.StatusOK, page{
		Label:    result.Label,
		ImageSrc: dataURI(result.Format, buf.Bytes()),
	})
}

func (h *Handler) handleError(w http.ResponseWriter, filename string, err error) {
	switch {
	case errors.Is(err, classifier.ErrUnsupportedInput):
		h.render(w, http.StatusUnsupportedMediaType, page{
			Message: "Please upload a " + acceptedList() + " image.",
		})
	case errors.Is(err, preprocess.ErrDecode):
		h.render(w, http.StatusBadRequest, page{
			Message: "The file could not be read as an image, please upload another one.",
		})
	default:
		h.logger.Error("prediction failed", zap.String("file", filename), zap.Error(err))
		h.render(w, http.StatusInternalServerError, page{Message: "Internal error."})
	}
}

func (h *Handler) render(w http.ResponseWriter, status int, p page) {
	p.Accept = strings.Join(classifier.AcceptedExtensions, ",")
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, p); err != nil {
		h.logger.Error("render page", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func acceptedList() string {
	exts := classifier.AcceptedExtensions
	return strings.Join(exts[:len(exts)-1], ", ") + " or " + exts[len(exts)-1]
}

func dataURI(format string, data []byte) template.URL {
	return template.URL("data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(data))
}
