package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	genzai "github.com/MegaGrindStone/genzai-web-ui"
	"github.com/MegaGrindStone/genzai-web-ui/internal/chat"
	"github.com/MegaGrindStone/genzai-web-ui/internal/handlers"
	"github.com/MegaGrindStone/genzai-web-ui/internal/logger"
	"github.com/MegaGrindStone/genzai-web-ui/internal/metrics"
	"github.com/MegaGrindStone/genzai-web-ui/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const serveLongDesc string = `Serve the GenzAI web interface.

The configuration is read from a YAML file, by default config.yaml in the
genzai directory of the user config directory. API keys left empty in the
file are read from GEMINI_API_KEY, OPENAI_API_KEY and OLLAMA_HOST.

Examples:
  genzai serve
  genzai serve --config ./config.yaml --port 3000 --debug`

type serveCommander struct {
	configPath string
	port       string
	debug      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "genzai",
		Short:        "GenzAI chat front end for generative AI models",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web interface",
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to the YAML configuration file")
	cmd.Flags().StringVarP(&cmder.port, "port", "p", "", "Port to listen on, overriding the configuration")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

func configDir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	dir := filepath.Join(cfgDir, "genzai")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating config directory: %w", err)
	}
	return dir, nil
}

func loadConfig(path string) (config, error) {
	cfgFile, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := config{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

func (c *serveCommander) run(ctx context.Context) error {
	dir, err := configDir()
	if err != nil {
		return err
	}

	cfgPath := c.configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(dir, "config.yaml")
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if c.port != "" {
		cfg.Port = c.port
	}

	if c.debug {
		cfg.LogLevel = "debug"
	}
	log, err := logger.NewLogger(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	if err != nil {
		return fmt.Errorf("error creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	orch, synth, cleanup, err := buildOrchestrator(ctx, cfg, dir, reg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	m, err := handlers.NewMain(orch, cfg.Models, synth, log)
	if err != nil {
		return fmt.Errorf("error creating handlers: %w", err)
	}

	// Serve static files
	staticFS, err := fs.Sub(genzai.StaticFS, "static")
	if err != nil {
		return fmt.Errorf("error opening static files: %w", err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/chats/new", m.HandleNewChat)
	mux.HandleFunc("/sidebar", m.HandleSidebar)
	mux.HandleFunc("/sse/messages", m.HandleSSE)
	mux.HandleFunc("/api/image", m.HandleImage)
	mux.HandleFunc("/health", m.HandleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			log.Error("Failed to shutdown sse server", zap.Error(err))
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", srv.Addr), zap.String("config", cfgPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Start shutdown")

		// Create context with timeout for shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Graceful shutdown failed", zap.Error(err))
			if err := srv.Close(); err != nil {
				log.Error("Forcing server close", zap.Error(err))
			}
		}
		return nil
	})

	return g.Wait()
}

// buildOrchestrator wires the configured backends, the prompt cache and the metrics into the chat
// orchestrator. It also returns the image synthesizer, nil when none is configured, and a cleanup
// function releasing the cache.
func buildOrchestrator(
	ctx context.Context,
	cfg config,
	dir string,
	reg prometheus.Registerer,
	log *zap.Logger,
) (*chat.Orchestrator, chat.ImageSynthesizer, func(), error) {
	text, enhancer, err := cfg.LLM.backend(ctx, prompts{system: cfg.SystemPrompt, enhancer: cfg.EnhancerPrompt}, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating llm: %w", err)
	}

	opts := []chat.Option{chat.WithRecorder(metrics.NewMetrics(reg))}
	if enhancer != nil {
		opts = append(opts, chat.WithEnhancer(enhancer))
	}

	var synth chat.ImageSynthesizer
	if cfg.Image != nil {
		synth, err = cfg.Image.synthesizer(ctx, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("error creating image synthesizer: %w", err)
		}
		opts = append(opts, chat.WithImageSynthesizer(synth))
	} else {
		log.Warn("No image backend configured, image models will answer with an error")
	}

	cleanup := func() {}
	if cfg.CachePath != "-" {
		cachePath := cfg.CachePath
		if cachePath == "" {
			cachePath = filepath.Join(dir, "prompts.db")
		}
		cache, err := services.NewBoltPromptCache(cachePath, cfg.CacheTTL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("error opening prompt cache: %w", err)
		}
		opts = append(opts, chat.WithPromptCache(cache))
		cleanup = func() {
			if err := cache.Close(); err != nil {
				log.Error("Failed to close prompt cache", zap.Error(err))
			}
		}
	}

	return chat.NewOrchestrator(text, log, opts...), synth, cleanup, nil
}
