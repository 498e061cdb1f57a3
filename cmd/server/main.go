package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/classifier"
	"github.com/Brownie44l1/lesion-api/internal/config"
	"github.com/Brownie44l1/lesion-api/internal/handlers"
	"github.com/Brownie44l1/lesion-api/internal/labels"
	"github.com/Brownie44l1/lesion-api/internal/logging"
	"github.com/Brownie44l1/lesion-api/internal/model"
)

const Version = "0.1.0"

type serveFlags struct {
	configPath     string
	addr           string
	modelPath      string
	metadataPath   string
	runtimeLibrary string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lesion-api",
		Short:         "Skin lesion image classification demo",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the model and serve the upload form",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			f.apply(cfg)
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "path to a YAML or JSON config file")
	flags.StringVar(&f.addr, "addr", "", "listen address (default :$PORT or :8080)")
	flags.StringVar(&f.modelPath, "model", "", "model artifact path (default "+config.DefaultModelPath+")")
	flags.StringVar(&f.metadataPath, "metadata", "", "model metadata path (default "+config.DefaultMetadataPath+")")
	flags.StringVar(&f.runtimeLibrary, "onnxruntime-lib", "", "onnxruntime shared library path")
	return cmd
}

func (f serveFlags) apply(cfg *config.Config) {
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	if f.modelPath != "" {
		cfg.Model.Path = f.modelPath
	}
	if f.metadataPath != "" {
		cfg.Model.MetadataPath = f.metadataPath
	}
	if f.runtimeLibrary != "" {
		cfg.Model.RuntimeLibrary = f.runtimeLibrary
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	return run(ctx, cfg, model.ONNXOpener(cfg.Model.RuntimeLibrary), ln)
}

// run loads the model with opener and serves on ln until ctx is done.
// In-flight requests are drained before the model is closed.
func run(ctx context.Context, cfg *config.Config, opener model.Opener, ln net.Listener) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		ln.Close()
		return err
	}
	defer logger.Sync()

	loader := model.NewLoader(model.LoaderOptions{
		ModelPath:    cfg.Model.Path,
		MetadataPath: cfg.Model.MetadataPath,
		Labels:       labels.Default,
		Opener:       opener,
		Logger:       logger,
	})
	m, err := loader.Load()
	if err != nil {
		ln.Close()
		logger.Error("model load failed", zap.String("path", cfg.Model.Path), zap.Error(err))
		return err
	}
	defer m.Close()

	c, err := classifier.New(m, labels.Default, classifier.Options{
		Interpolation: cfg.Model.Interpolation,
		CacheSize:     cfg.CacheSize,
		Logger:        logger,
	})
	if err != nil {
		ln.Close()
		return err
	}
	h := handlers.NewHandler(c, handlers.Options{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		CORSOrigins:    cfg.CORSOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("server starting",
		zap.String("addr", ln.Addr().String()),
		zap.String("model", cfg.Model.Path),
		zap.Strings("classes", m.Metadata.Classes),
	)
	if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	// Serve returns as soon as Shutdown starts; wait for active requests
	// before the deferred Close releases the model.
	<-drained
	logger.Info("server stopped")
	return nil
}
