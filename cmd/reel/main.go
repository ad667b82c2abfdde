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
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/health"
	"github.com/zsiec/reel/internal/logger"
	"github.com/zsiec/reel/internal/media/ffmpeg"
	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/playback/clock"
	"github.com/zsiec/reel/internal/registry"
	"github.com/zsiec/reel/internal/server"
	"github.com/zsiec/reel/internal/ui"
	"github.com/zsiec/reel/pkg/version"
)

type options struct {
	file  string
	tui   bool
	serve bool
}

func main() {
	var (
		configPath  string
		showVersion bool
		opts        options
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.StringVar(&opts.file, "file", "", "Media file to play")
	flag.BoolVar(&opts.tui, "tui", false, "Show the terminal dashboard while playing -file")
	flag.BoolVar(&opts.serve, "serve", false, "Run the HTTP control API")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	if opts.file == "" && !opts.serve {
		fmt.Fprintln(os.Stderr, "Nothing to do: pass -file, -serve or both")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if opts.serve {
		cfg.Server.Enabled = true
	}

	base, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewService(base)

	log.WithField("version", version.GetInfo().Short()).Info("Starting Reel")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, opts); err != nil {
		log.WithError(err).Error("Reel exited with error")
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger, opts options) error {
	var redisClient redis.UniversalClient
	if cfg.Registry.Backend == "redis" {
		client, err := connectRedis(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.WithError(err).Error("Failed to close Redis connection")
			}
		}()
		redisClient = client
	}

	reg, err := registry.New(cfg.Registry, redisClient, log)
	if err != nil {
		return fmt.Errorf("failed to create session registry: %w", err)
	}
	defer reg.Close()

	src, err := ffmpeg.NewSource()
	if err != nil {
		return err
	}

	var (
		renderer  clock.Renderer
		dashboard *ui.Renderer
	)
	if opts.tui && opts.file != "" {
		dashboard = ui.NewRenderer(0, 0)
		renderer = dashboard
		// The dashboard owns the terminal.
		log = logger.NewNullLogger()
	} else {
		renderer = newLogRenderer(log)
	}

	mgr := playback.NewManager(cfg, playback.Options{
		Source:   src,
		Renderer: renderer,
		Registry: reg,
		Logger:   log,
	})
	defer mgr.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics, log) })
	}

	if opts.serve {
		checkers := []health.Checker{
			health.NewCodecChecker(),
			health.NewPlaybackChecker(mgr),
		}
		if redisClient != nil {
			checkers = append(checkers, health.NewRedisChecker(redisClient))
		}
		srv := server.New(&cfg.Server, log, server.Options{
			Player:   mgr,
			Registry: reg,
			Checkers: checkers,
		})
		g.Go(func() error { return srv.Start(gctx) })
	}

	if opts.file != "" {
		g.Go(func() error {
			// Without the API there is nothing left to serve once the file ends.
			if !opts.serve {
				defer cancel()
			}
			return play(gctx, mgr, opts.file, dashboard, log)
		})
	}

	return g.Wait()
}

func play(ctx context.Context, mgr *playback.Manager, path string, dashboard *ui.Renderer, log logger.Logger) error {
	if err := mgr.OpenFile(ctx, path); err != nil {
		return err
	}
	log.WithFields(logger.Fields{
		"path":        path,
		"duration":    mgr.Duration(),
		"valid_video": mgr.ValidVideo(),
		"valid_audio": mgr.ValidAudio(),
		"width":       mgr.FrameWidth(),
		"height":      mgr.FrameHeight(),
	}).Info("Playing file")

	if err := mgr.StartDecode(ctx); err != nil {
		return err
	}

	if dashboard != nil {
		if err := ui.Run(ctx, mgr, dashboard); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		if err := mgr.StopDecode(); err != nil {
			return err
		}
		return mgr.Err()
	}

	err := mgr.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		return mgr.StopDecode()
	}
	return err
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info("Connected to Redis successfully")
	return client, nil
}

// serveMetrics runs the Prometheus endpoint until ctx ends.
func serveMetrics(ctx context.Context, cfg config.MetricsConfig, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("Starting metrics server")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
