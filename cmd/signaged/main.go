package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/mesophy/signaged/internal/audit"
	"github.com/mesophy/signaged/internal/cache"
	"github.com/mesophy/signaged/internal/cloud"
	"github.com/mesophy/signaged/internal/config"
	"github.com/mesophy/signaged/internal/daemon"
	"github.com/mesophy/signaged/internal/database"
	"github.com/mesophy/signaged/internal/deviceinfo"
	"github.com/mesophy/signaged/internal/display"
	"github.com/mesophy/signaged/internal/event"
	"github.com/mesophy/signaged/internal/jobs"
	"github.com/mesophy/signaged/internal/lockfile"
	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/monitor"
	"github.com/mesophy/signaged/internal/pairing"
	"github.com/mesophy/signaged/internal/playback"
	"github.com/mesophy/signaged/internal/player"
	"github.com/mesophy/signaged/internal/render"
	"github.com/mesophy/signaged/internal/repository"
	"github.com/mesophy/signaged/internal/retry"
	"github.com/mesophy/signaged/internal/server"
	"github.com/mesophy/signaged/internal/sse"
)

func main() {
	os.Exit(run())
}

func run() int {
	resetPairing := flag.Bool("reset-pairing", false, "forget the paired screen and start pairing again")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("signaged", config.Version)
		return 0
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid config")
		return 1
	}

	setLogLevel(cfg.LogLevel)

	lock, err := lockfile.Acquire(cfg.LockFile)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.LockFile).Msg("another instance is running")
		return 1
	}
	defer lock.Release()

	db, err := database.Open(cfg.DBPath())
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath()).Msg("failed to open database")
		return 1
	}
	defer db.Close()
	log.Info().Str("path", cfg.DBPath()).Msg("database opened")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deviceConfigRepo := repository.NewDeviceConfigRepository(db.DB)
	scheduleRepo := repository.NewScheduleRepository(db.DB)
	mediaCacheRepo := repository.NewMediaCacheRepository(db.DB)
	playbackLogRepo := repository.NewPlaybackLogRepository(db.DB)
	syncLogRepo := repository.NewSyncLogRepository(db.DB)

	if *resetPairing {
		if err := pairing.Reset(ctx, deviceConfigRepo); err != nil {
			log.Error().Err(err).Msg("failed to reset pairing")
			return 1
		}
		audit.Log(ctx, audit.Event{Type: audit.EventPairingReset, User: os.Getenv("USER")})
		log.Info().Msg("pairing reset")
	}

	if n, err := playbackLogRepo.CloseDangling(ctx, time.Now()); err != nil {
		log.Warn().Err(err).Msg("failed to close dangling playback entries")
	} else if n > 0 {
		log.Info().Int64("closed", n).Msg("closed playback entries left open by last run")
	}

	hostSource := deviceinfo.HostSource()
	deviceID, err := deviceinfo.DeviceID(ctx, deviceConfigRepo, hostSource)
	if err != nil {
		log.Error().Err(err).Msg("failed to determine device id")
		return 1
	}

	client, err := cloud.NewClient(cfg.APIBaseURL, retry.Default())
	if err != nil {
		log.Error().Err(err).Msg("failed to create cloud client")
		return 1
	}

	contentCache := cache.New(cfg.ContentDir(), mediaCacheRepo, client)
	if err := contentCache.Reconcile(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to reconcile content cache")
	}

	screens, err := render.New(cfg.ScreensDir(), cfg.ScreenWidth, cfg.ScreenHeight)
	if err != nil {
		log.Error().Err(err).Msg("failed to prepare screen renderer")
		return 1
	}

	queue := event.NewQueue()
	broker := sse.NewBroker()
	defer broker.Close()

	supervisor := playback.NewSupervisor(
		player.NewExecPlayer(cfg.ImagePlayerCmd, cfg.VideoPlayerCmd),
		contentCache, playbackLogRepo, queue,
		playback.Options{
			ImageDuration:   cfg.ImageDuration(),
			TransitionDelay: cfg.TransitionDelay(),
			Grace:           cfg.PlayerGrace(),
			MaxItemFailures: cfg.MaxItemFailures,
			DefaultLoop:     cfg.DefaultPlaylistLoop,
		},
	)

	sampler, err := monitor.NewHostSampler("/proc", "/sys", cfg.DataDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to open system metrics")
		return 1
	}
	resourceMonitor := monitor.New(
		sampler,
		monitor.Thresholds{
			CPU:         cfg.CPUThreshold,
			Memory:      cfg.MemoryThreshold,
			Disk:        cfg.DiskThreshold,
			Temperature: cfg.TempThreshold,
		},
		cfg.AlertCooldown(),
		float64(cfg.DiskFreeTargetPercent),
		monitor.Actions{
			FreeMemory: monitor.DefaultFreeMemory,
			Evict:      contentCache.EvictOldest,
			Throttle:   monitor.CommandAction(cfg.ThrottleCmd),
			Unthrottle: monitor.CommandAction(cfg.UnthrottleCmd),
		},
		queue,
	)

	housekeeping := jobs.NewHousekeepingJob(contentCache, syncLogRepo, cfg.CacheMaxAge(), cfg.CacheMaxBytes)

	pairer := pairing.NewManager(
		client, deviceConfigRepo,
		func() model.DeviceInfo { return deviceinfo.Collect(deviceID, hostSource, time.Now()) },
		cfg.PairingCodeTTL(), cfg.PairingPollInterval(),
	)

	d := daemon.New(daemon.Deps{
		Events:       queue,
		Publisher:    broker,
		DeviceConfig: deviceConfigRepo,
		Schedules:    scheduleRepo,
		SyncLogs:     syncLogRepo,
		Cloud:        client,
		Pairer:       pairer,
		Cache:        contentCache,
		Playback:     supervisor,
		Display:      display.NewExecDisplay(cfg.DisplayCmd, cfg.DisplayClearCmd, cfg.PlayerGrace()),
		Screens:      screens,
		Metrics:      resourceMonitor,
		Background: []*jobs.Periodic{
			resourceMonitor.Job(cfg.MonitorInterval()),
			housekeeping.Periodic(config.HousekeepInterval),
		},
	}, daemon.Options{
		DeviceID:            deviceID,
		DashboardURL:        cfg.DashboardURL,
		SyncInterval:        cfg.SyncInterval(),
		HeartbeatInterval:   cfg.HeartbeatInterval(),
		ResolveInterval:     cfg.ResolveInterval(),
		MaxRecoveryAttempts: cfg.MaxRecoveryAttempts,
		RecoveryStability:   cfg.RecoveryStability(),
		RecoveryPause:       config.RecoveryPause,
	})

	router := server.NewRouter(server.Deps{
		Status:              d,
		Broker:              broker,
		Events:              queue,
		PlaybackLogs:        playbackLogRepo,
		SyncLogs:            syncLogRepo,
		ControlPasswordHash: cfg.ControlPasswordHash,
		StartedAt:           time.Now(),
	})
	if cfg.ControlPasswordHash == "" {
		log.Warn().Msg("CONTROL_PASSWORD_HASH not set, control endpoints are disabled")
	}

	srv := server.New(cfg.StatusAddr, router)
	go func() {
		log.Info().Str("addr", cfg.StatusAddr).Msg("starting status server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("status server error")
		}
	}()

	log.Info().
		Str("version", config.Version).
		Str("deviceId", deviceID).
		Msg("signaged starting")

	runErr := d.Run(ctx)

	log.Info().Msg("shutting down status server")
	broker.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server forced to shutdown")
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("daemon exited with error")
		return 1
	}

	log.Info().Msg("signaged stopped")
	return 0
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
