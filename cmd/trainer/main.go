// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// The vigil trainer is the offline batch job: it builds a labeled
// dataset from stored events plus optional synthetic samples, trains the
// random forest, evaluates it, and writes the model artifact.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/database"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/ml"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	syntheticPath := flag.String("synthetic", "", "path to a JSON file of labeled synthetic samples (overrides config)")
	outputPath := flag.String("output", "", "model artifact output path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil-trainer: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if *syntheticPath != "" {
		cfg.Training.SyntheticPath = *syntheticPath
	}
	if *outputPath != "" {
		cfg.Scoring.ModelPath = *outputPath
	}

	if err := run(cfg); err != nil {
		if errors.Is(err, ml.ErrInsufficientData) {
			logging.Error().Err(err).Msg("Not enough data to train; collect more events or add synthetic samples")
			os.Exit(2)
		}
		logging.Fatal().Err(err).Msg("Training failed")
	}
}

func run(cfg *config.Config) error {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store := database.NewStore(db)
	builder := ml.NewDatasetBuilder(store, time.Duration(cfg.Training.LookbackHours)*time.Hour)

	samples, err := builder.Build(context.Background())
	if err != nil {
		return err
	}

	if cfg.Training.SyntheticPath != "" {
		synthetic, err := ml.LoadSyntheticSamples(cfg.Training.SyntheticPath)
		if err != nil {
			return err
		}
		samples = append(samples, synthetic...)
	}

	model, report, err := ml.Train(samples, ml.TrainingConfig{
		MinSamples: cfg.Training.MinSamples,
		Folds:      cfg.Training.Folds,
		Forest: ml.RandomForestConfig{
			Trees:    cfg.Training.Trees,
			MaxDepth: cfg.Training.MaxDepth,
			MinSplit: cfg.Training.MinSplit,
			MinLeaf:  cfg.Training.MinLeaf,
			Seed:     cfg.Training.Seed,
		},
	})
	if err != nil {
		return err
	}

	if err := ml.SaveModel(cfg.Scoring.ModelPath, model); err != nil {
		return err
	}

	logging.Info().
		Str("path", cfg.Scoring.ModelPath).
		Int("samples", report.Samples).
		Float64("accuracy", report.Accuracy).
		Float64("cv_accuracy", report.CVAccuracy).
		Float64("cv_std_dev", report.CVStdDev).
		Msg("Model artifact written")
	return nil
}
