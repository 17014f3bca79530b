//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// memoryserver is the tutoring memory service: it buffers conversations,
// compresses them into session summaries, maintains durable user profiles,
// and assembles cross-session context blocks.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deeptutor/memory-go/config"
	"github.com/deeptutor/memory-go/log"
	"github.com/deeptutor/memory-go/model"
	"github.com/deeptutor/memory-go/model/openai"
	"github.com/deeptutor/memory-go/model/tiktoken"
	"github.com/deeptutor/memory-go/profile"
	profileinmemory "github.com/deeptutor/memory-go/profile/inmemory"
	profilepostgres "github.com/deeptutor/memory-go/profile/postgres"
	"github.com/deeptutor/memory-go/retrieval"
	"github.com/deeptutor/memory-go/server"
	"github.com/deeptutor/memory-go/session"
	sessioninmemory "github.com/deeptutor/memory-go/session/inmemory"
	sessionpostgres "github.com/deeptutor/memory-go/session/postgres"
	"github.com/deeptutor/memory-go/session/summarizer"
	storageredis "github.com/deeptutor/memory-go/storage/redis"
	"github.com/deeptutor/memory-go/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	rebuildUser := flag.String("rebuild-profile", "", "rebuild this user's profile from stored summaries, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.SetLevel(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Telemetry.Enabled {
		telemetryOpts := []telemetry.Option{}
		if cfg.Telemetry.TracesEndpoint != "" {
			telemetryOpts = append(telemetryOpts, telemetry.WithTracesEndpoint(cfg.Telemetry.TracesEndpoint))
		}
		if cfg.Telemetry.MetricsEndpoint != "" {
			telemetryOpts = append(telemetryOpts, telemetry.WithMetricsEndpoint(cfg.Telemetry.MetricsEndpoint))
		}
		clean, err := telemetry.Start(ctx, telemetryOpts...)
		if err != nil {
			log.Fatalf("start telemetry: %v", err)
		}
		defer clean()
	}

	counter := newTokenCounter(cfg.Model.Name)
	modelOpts := []openai.Option{}
	if cfg.Model.BaseURL != "" {
		modelOpts = append(modelOpts, openai.WithBaseURL(cfg.Model.BaseURL))
	}
	sum := summarizer.New(
		openai.New(cfg.Model.Name, modelOpts...),
		summarizer.WithChecksAny([]summarizer.Checker{
			summarizer.CheckRoundThreshold(cfg.Summarizer.RoundThreshold),
			summarizer.CheckTokenThreshold(cfg.Summarizer.TokenThreshold),
		}),
		summarizer.WithKeepRecent(cfg.Summarizer.KeepRecent),
		summarizer.WithTimeout(cfg.Summarizer.Timeout()),
		summarizer.WithTokenCounter(counter),
	)

	profiles, err := newProfileService(ctx, cfg)
	if err != nil {
		log.Fatalf("init profile service: %v", err)
	}
	defer profiles.Close()

	sessionOpts := []sessioninmemory.ServiceOpt{
		sessioninmemory.WithSummarizer(sum),
		sessioninmemory.WithTokenCounter(counter),
		sessioninmemory.WithAsyncSummaryNum(cfg.Summarizer.AsyncWorkers),
		sessioninmemory.WithSummaryQueueSize(cfg.Summarizer.QueueSize),
		sessioninmemory.WithSummaryHook(func(ctx context.Context, s *session.Summary) {
			if _, err := profiles.IngestSummary(ctx, s); err != nil {
				log.Errorf("ingest summary into profile for user %s: %v", s.UserID, err)
			}
		}),
	}
	if cfg.Postgres.ConnString != "" {
		store, err := sessionpostgres.NewSummaryStore(ctx,
			sessionpostgres.WithConnString(cfg.Postgres.ConnString))
		if err != nil {
			log.Fatalf("init summary store: %v", err)
		}
		defer store.Close()
		sessionOpts = append(sessionOpts, sessioninmemory.WithSummaryStore(store))
	}
	sessions := sessioninmemory.NewService(sessionOpts...)
	defer sessions.Close()

	assemblerOpts := []retrieval.Option{
		retrieval.WithWindowDays(cfg.Retrieval.WindowDays),
		retrieval.WithMaxChars(cfg.Retrieval.MaxChars),
		retrieval.WithMaxEntries(cfg.Retrieval.MaxEntries),
	}
	if cfg.Redis.URL != "" {
		cache, err := storageredis.GetClientBuilder()(
			storageredis.WithClientBuilderURL(cfg.Redis.URL))
		if err != nil {
			log.Fatalf("init redis cache: %v", err)
		}
		defer cache.Close()
		assemblerOpts = append(assemblerOpts,
			retrieval.WithCache(cache, cfg.Retrieval.CacheTTL()))
	}
	assembler := retrieval.NewAssembler(profiles, sessions, assemblerOpts...)

	if *rebuildUser != "" {
		if err := rebuildProfile(ctx, sessions, profiles, *rebuildUser); err != nil {
			log.Fatalf("rebuild profile for user %s: %v", *rebuildUser, err)
		}
		return
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(sessions, profiles, assembler,
			server.WithCORSAllowedOrigins(cfg.Server.CORSAllowedOrigins)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("memory service listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

// newTokenCounter prefers exact tiktoken counts and falls back to the coarse
// estimator when the model's encoding is unavailable.
func newTokenCounter(modelName string) model.TokenCounter {
	counter, err := tiktoken.New(modelName)
	if err != nil {
		log.Warnf("tiktoken unavailable for model %s, using estimate counter: %v", modelName, err)
		return model.EstimateCounter{}
	}
	return counter
}

// rebuildProfile wipes a user's profile and replays their stored summaries
// through the batch ingest pool, oldest first so the mastery averages
// converge the same way they did live.
func rebuildProfile(ctx context.Context, sessions session.Service, profiles profile.Service, userID string) error {
	summaries, err := sessions.ListSummaries(ctx, session.UserKey{UserID: userID})
	if err != nil {
		return err
	}
	for i, j := 0, len(summaries)-1; i < j; i, j = i+1, j-1 {
		summaries[i], summaries[j] = summaries[j], summaries[i]
	}
	if err := profiles.DeleteProfile(ctx, userID); err != nil {
		return err
	}
	// Single user: one worker keeps the replay ordered.
	if err := profile.BatchIngest(ctx, profiles, summaries, 1); err != nil {
		return err
	}
	log.Infof("rebuilt profile for user %s from %d summaries", userID, len(summaries))
	return nil
}

func newProfileService(ctx context.Context, cfg *config.Config) (profile.Service, error) {
	if cfg.Postgres.ConnString == "" {
		return profileinmemory.NewService(), nil
	}
	return profilepostgres.NewService(ctx,
		profilepostgres.WithConnString(cfg.Postgres.ConnString))
}
