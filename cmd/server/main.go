// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// The vigil server ingests login events, scores them in real time, and
// runs the supervised detection sweep loop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/api"
	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/database"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/ml"
	"github.com/tomtom215/vigil/internal/supervisor"
	"github.com/tomtom215/vigil/internal/supervisor/services"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
}

func run(cfg *config.Config) error {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store := database.NewStore(db)

	cache := detection.NewWindowCache(time.Duration(cfg.Scoring.HorizonSeconds) * time.Second)
	scorer := ml.NewScorer(cache, cfg.Scoring.ModelPath, cfg.Scoring.BlockThreshold)
	if err := scorer.Reload(); err != nil {
		// No model yet is a normal first-boot state; scoring degrades
		// to the zero score until one is trained.
		logging.Warn().Err(err).Msg("No classifier model loaded, scoring disabled until training")
	}

	engine := detection.NewSweepEngine(store, store, detection.EngineConfig{
		SweepInterval: time.Duration(cfg.Detection.SweepIntervalSeconds) * time.Second,
		FetchLimit:    cfg.Detection.FetchLimit,
		Cooldown:      time.Duration(cfg.Detection.CooldownSeconds) * time.Second,
	})
	if err := registerDetectors(engine, cfg.Detection); err != nil {
		return err
	}
	engine.RegisterNotifier(detection.NewLogNotifier())

	trainFn := newTrainFunc(store, cfg)

	handlers := api.NewHandlers(store, store, engine, scorer, trainFn)
	router := api.NewRouter(handlers, api.RouterConfig{
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
	})
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := api.NewServer(addr, router,
		time.Duration(cfg.Server.ReadTimeoutSeconds)*time.Second,
		time.Duration(cfg.Server.WriteTimeoutSeconds)*time.Second)

	treeCfg := supervisor.DefaultTreeConfig()
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddDetectionService(services.NewSweepService(engine))
	tree.AddDetectionService(services.NewPurgeService(cache, 10*time.Minute))
	tree.AddAPIService(services.NewHTTPService(server, addr, treeCfg.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", addr).Msg("Vigil server starting")
	err = <-tree.ServeBackground(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logging.Info().Msg("Vigil server stopped")
	return nil
}

// registerDetectors builds the rule set and applies configured
// parameters. Config validation already rejected invalid values, so a
// failure here is a programming error worth surfacing.
func registerDetectors(engine *detection.SweepEngine, cfg config.DetectionConfig) error {
	bruteForce := detection.NewBruteForceDetector()
	stuffing := detection.NewCredentialStuffingDetector()
	fingerprint := detection.NewFingerprintStuffingDetector()

	rules := []struct {
		name     string
		detector detection.Detector
		rule     config.RuleConfig
	}{
		{"brute_force", bruteForce, cfg.BruteForce},
		{"credential_stuffing", stuffing, cfg.CredentialStuffing},
		{"fingerprint_stuffing", fingerprint, cfg.FingerprintStuffing},
	}

	for _, r := range rules {
		raw, err := json.Marshal(map[string]int{
			"window_seconds": r.rule.WindowSeconds,
			"threshold":      r.rule.Threshold,
		})
		if err != nil {
			return fmt.Errorf("marshaling %s config: %w", r.name, err)
		}
		if err := r.detector.Configure(raw); err != nil {
			return fmt.Errorf("configuring %s: %w", r.name, err)
		}
		r.detector.SetEnabled(r.rule.Enabled)
		engine.RegisterDetector(r.name, r.detector)
	}
	return nil
}

// newTrainFunc builds the training closure behind POST /model/train.
// The handler swaps the returned model into the scorer after the save
// succeeds.
func newTrainFunc(store *database.Store, cfg *config.Config) api.TrainFunc {
	return func(ctx context.Context) (*ml.Model, *ml.Report, error) {
		builder := ml.NewDatasetBuilder(store, time.Duration(cfg.Training.LookbackHours)*time.Hour)
		samples, err := builder.Build(ctx)
		if err != nil {
			return nil, nil, err
		}

		if cfg.Training.SyntheticPath != "" {
			synthetic, err := ml.LoadSyntheticSamples(cfg.Training.SyntheticPath)
			if err != nil {
				return nil, nil, err
			}
			samples = append(samples, synthetic...)
		}

		model, report, err := ml.Train(samples, trainingConfig(cfg.Training))
		if err != nil {
			return nil, nil, err
		}

		if err := ml.SaveModel(cfg.Scoring.ModelPath, model); err != nil {
			return nil, nil, err
		}
		return model, report, nil
	}
}

func trainingConfig(t config.TrainingConfig) ml.TrainingConfig {
	return ml.TrainingConfig{
		MinSamples: t.MinSamples,
		Folds:      t.Folds,
		Forest: ml.RandomForestConfig{
			Trees:    t.Trees,
			MaxDepth: t.MaxDepth,
			MinSplit: t.MinSplit,
			MinLeaf:  t.MinLeaf,
			Seed:     t.Seed,
		},
	}
}
