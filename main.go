package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"StoryboardVideo-server/config"
	"StoryboardVideo-server/logger"
	"StoryboardVideo-server/models"
	"StoryboardVideo-server/routers"
	"StoryboardVideo-server/routers/api"
	"StoryboardVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	prompt := flag.String("prompt", "", "generate and export one video for this prompt, then exit")
	aspect := flag.String("aspect", string(models.DefaultAspectRatio), "aspect ratio used with -prompt: 16:9, 9:16 or 1:1")
	out := flag.String("out", service.ExportFileName, "output file used with -prompt")
	flag.Parse()

	config.InitConfigFrom(*configPath)
	cfg := config.AppConfig
	logger.Init(cfg)
	if logger.L().GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if *prompt != "" {
		err = runOnce(ctx, cfg, *prompt, *aspect, *out)
	} else {
		err = serve(ctx, cfg)
	}
	if err != nil {
		logger.Component("main").WithError(err).Fatal("exiting")
	}
}

// newProvider returns nil when no credential is configured; the relay then
// answers every intent with a configuration error.
func newProvider(cfg *config.Config) service.Provider {
	if !cfg.HasCredential() {
		logger.Component("relay").Warn("API_KEY is not set, relay requests will fail")
		return nil
	}
	return service.NewOpenAIProvider(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.TextModel, cfg.AI.ImageModel, logger.Component("provider"))
}

func newExporter(ctx context.Context, cfg *config.Config) (*service.Exporter, error) {
	log := logger.Component("exporter")
	archive, err := service.NewMinIOArchive(cfg, logger.Component("archive"))
	if err != nil {
		return nil, err
	}
	var archiver service.Archiver
	if archive != nil {
		if err := archive.EnsureBucket(ctx); err != nil {
			log.WithError(err).Warn("archive bucket not ready, exports will not be archived until it is")
		}
		archiver = archive
	}
	factory := service.NewFFmpegFactory(cfg.Encoder.Binary, cfg.Encoder.WorkDir, log)
	return service.NewExporter(factory, archiver, log), nil
}

// newScheduler picks the asynq worker when the queue is enabled, otherwise
// runs execute on goroutines under runCtx.
func newScheduler(runCtx context.Context, cfg *config.Config) (service.RunScheduler, error) {
	if !cfg.Queue.Enabled {
		return service.NewLocalScheduler(runCtx), nil
	}
	q := service.NewQueueScheduler(cfg, logger.Component("queue"))
	if err := q.Start(); err != nil {
		return nil, fmt.Errorf("start generation queue: %w", err)
	}
	return q, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Component("server")

	// generation runs and websockets are not tied to a request
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}
	runs, err := newScheduler(runCtx, cfg)
	if err != nil {
		return err
	}
	client := service.NewRelayClient(cfg.Relay.ClientBaseURL, cfg.Relay.Path, cfg.RelayTimeout(), logger.Component("client"))
	sessions := api.NewSessionHandler(runCtx,
		models.NewSessionStore(),
		service.NewGenerator(client, logger.Component("generator")),
		runs,
		exporter,
		service.NewSlideshow(cfg.PlayerInterval(), cfg.PlayerFade()),
		logger.Component("sessions"),
	)
	r := routers.InitRouter(routers.Handlers{
		RelayPath: cfg.Relay.Path,
		Relay:     api.NewRelayHandler(newProvider(cfg), logger.Component("relay")),
		Sessions:  sessions,
		Log:       logger.Component("http"),
	})
	srv := &http.Server{Addr: cfg.Server.Port, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "relay": cfg.Relay.Path, "queue": cfg.Queue.Enabled}).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		cancelRuns()
		err := srv.Shutdown(shutdownCtx)
		runs.Shutdown()
		log.Info("server stopped")
		return err
	})
	return g.Wait()
}

// runOnce generates and exports a single video without the session API.
// With a local credential the relay is served on a loopback port for the
// duration of the run; otherwise the configured relay is used.
func runOnce(ctx context.Context, cfg *config.Config, prompt, aspect, out string) error {
	ratio, err := models.ParseAspectRatio(aspect)
	if err != nil {
		return err
	}
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}

	provider := newProvider(cfg)
	if provider == nil {
		return generateAndExport(ctx, cfg, cfg.Relay.ClientBaseURL, exporter, prompt, ratio, out)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for local relay: %w", err)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Any(cfg.Relay.Path, api.NewRelayHandler(provider, logger.Component("relay")).Handle)
	srv := &http.Server{Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer srv.Close()
		return generateAndExport(gctx, cfg, "http://"+ln.Addr().String(), exporter, prompt, ratio, out)
	})
	return g.Wait()
}

func generateAndExport(ctx context.Context, cfg *config.Config, relayURL string, exporter *service.Exporter, prompt string, ratio models.AspectRatio, out string) error {
	log := logger.Component("cli")
	client := service.NewRelayClient(relayURL, cfg.Relay.Path, cfg.RelayTimeout(), logger.Component("client"))
	gen := service.NewGenerator(client, logger.Component("generator"))

	s := models.NewSession("cli")
	s.SetPrompt(prompt)
	s.SetAspectRatio(ratio)

	if _, err := gen.Run(ctx, s, progressLog{log: log}); err != nil {
		log.WithError(err).Debug("generation failed")
		return errors.New(s.Snapshot().Error)
	}
	file, err := exporter.Export(ctx, s, service.FileDownloader{Path: out})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	log.WithFields(logrus.Fields{"path": out, "bytes": len(file.Data), "archive": file.ArchiveURL}).Info("video written")
	return nil
}

// progressLog reports a run's progress on the command line.
type progressLog struct {
	log *logrus.Entry
}

func (p progressLog) OnProgress(pr models.Progress) {
	if pr.Message != "" {
		p.log.Info(pr.Message)
	}
}

func (p progressLog) OnImages(images []string) {
	if len(images) > 0 {
		p.log.WithField("images", len(images)).Debug("scene rendered")
	}
}
