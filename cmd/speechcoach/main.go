package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"

	scconfig "github.com/voicetyped/speechcoach/config"
	"github.com/voicetyped/speechcoach/internal/analysis"
	"github.com/voicetyped/speechcoach/internal/coach"
	"github.com/voicetyped/speechcoach/internal/connectutil"
	"github.com/voicetyped/speechcoach/internal/handler"
	"github.com/voicetyped/speechcoach/internal/media"
	"github.com/voicetyped/speechcoach/internal/metrics"
	"github.com/voicetyped/speechcoach/pkg/events"
	"github.com/voicetyped/speechcoach/pkg/profile"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[scconfig.CoachConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("validating config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	opts := []frame.Option{
		frame.WithConfig(&cfg),
		frame.WithName("speechcoach"),
		frame.WithRegisterServerOauth2Client(),
		frame.WithRegisterPublisher(eventRef, eventURL),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	}
	if cfg.DeadLetterStore == "database" {
		opts = append(opts, frame.WithDatastore())
	}
	ctx, srv := frame.NewService(opts...)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	authenticator := srv.SecurityManager().GetAuthenticator(ctx)
	pub := events.NewPublisher(srv.QueueManager(), "speechcoach", eventRef)

	// --- Analysis services ---
	client := analysis.NewClient(analysis.Config{
		AnalysisURL: cfg.AnalysisURL,
		BackendURL:  cfg.BackendURL,
		Timeout:     cfg.AnalysisTimeout(),
		CacheTTL:    time.Duration(cfg.CacheTTLSec) * time.Second,
		Breaker: analysis.BreakerConfig{
			FailureThreshold: cfg.CBFailThreshold,
			ResetTimeout:     time.Duration(cfg.CBResetTimeoutSec) * time.Second,
		},
	}, analysis.WithTokenSource(analysis.NewStaticToken(cfg.AuthToken)))

	// --- Profiles ---
	profiles := profile.NewLoader(cfg.ProfileDir)
	if _, err := profiles.LoadAll(); err != nil {
		log.Printf("warning: loading profiles: %v", err)
	}
	go func() {
		if err := profiles.WatchAndReload(ctx); err != nil {
			slog.WarnContext(ctx, "profile watcher stopped", slog.String("error", err.Error()))
		}
	}()

	provider, err := metrics.Providers.Create(cfg.DegradedProvider, map[string]string{
		"seed": strconv.FormatUint(cfg.DegradedSeed, 10),
	})
	if err != nil {
		log.Fatalf("creating degraded provider: %v", err)
	}

	// --- Summary persistence ---
	var store coach.DeadLetterStore = coach.NewMemoryDeadLetterStore()
	if cfg.DeadLetterStore == "database" {
		gormStore := coach.NewGormDeadLetterStore(
			srv.DatastoreManager().GetPool(ctx, "__default__pool_name__"),
		)
		if err := gormStore.Migrate(ctx); err != nil {
			log.Fatalf("migrating dead letters: %v", err)
		}
		store = gormStore
	}
	saver := coach.NewSaver(client, store, coach.SaverConfig{
		MaxRetries:     cfg.SummaryMaxRetries,
		Timeout:        cfg.AnalysisTimeout(),
		BackoffInitial: time.Duration(cfg.SummaryBackoffMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.SummaryBackoffMaxMs) * time.Millisecond,
	}, pool, pub)

	// --- Coach ---
	sessions := coach.New(coach.Config{
		DefaultProfile:  cfg.DefaultProfile,
		RequestTimeout:  cfg.AnalysisTimeout(),
		AnalyzeTimeout:  time.Duration(cfg.AnalyzeTimeoutSec) * time.Second,
		Retention:       cfg.SampleBufferRetention(),
		Alpha:           cfg.EMAAlpha,
		DominanceWindow: cfg.DominanceWindow(),
	}, media.NewAcquirer(media.NewWebRTCDevice(cfg.WebRTCConfig())), client, profiles,
		coach.WithProvider(provider),
		coach.WithSaver(saver),
		coach.WithPublisher(pub),
		coach.WithPool(pool),
	)
	// Runs before srv.Stop so the last summary reaches the saver.
	defer func() {
		sessions.Shutdown(context.Background())
		saver.Wait()
	}()

	// --- Event audit ---
	audit := &events.Subscriber{Pool: pool}
	audit.On(events.SummaryFailed, func(ctx context.Context, env events.Envelope) error {
		var data events.SummaryData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return err
		}
		slog.WarnContext(ctx, "session summary dead-lettered",
			slog.String("session_id", env.SessionID),
			slog.Int("attempts", data.Attempts),
			slog.String("error", data.Error))
		return nil
	})
	audit.On(events.SessionStopped, func(ctx context.Context, env events.Envelope) error {
		var data events.SessionStoppedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return err
		}
		slog.InfoContext(ctx, "session stop observed on bus",
			slog.String("session_id", env.SessionID),
			slog.String("reason", data.Reason),
			slog.Int64("duration_ms", data.DurationMs))
		return nil
	})

	// --- HTTP Mux: REST and Connect on one server ---
	mux := http.NewServeMux()

	connectOpts, err := connectutil.AuthenticatedOptions(ctx, authenticator)
	if err != nil {
		log.Fatalf("setting up auth interceptors: %v", err)
	}
	coachSvc := handler.NewCoachService(sessions, pub)
	coachSvc.SetWatchBuffer(cfg.WatchBufferSize)
	path, h := handler.NewCoachServiceHandler(coachSvc, connectOpts...)
	mux.Handle(path, h)

	restMux := http.NewServeMux()
	handler.NewHandler(sessions, profiles, client, saver).RegisterRoutes(restMux)
	mux.Handle("/api/", connectutil.AuthenticatedHTTPMiddleware(restMux, authenticator))

	srv.Init(ctx,
		frame.WithRegisterSubscriber(eventRef+".audit", eventURL, audit),
		frame.WithHTTPHandler(connectutil.AccessLog(connectutil.H2CHandler(mux))),
	)

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
