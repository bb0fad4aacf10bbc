// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// CombinationStrategy selects when counter-partial definitions are combined
// with mixed-coverage nodes.
type CombinationStrategy string

const (
	// CombineAfterSearch runs the recombination pass once the search loop exits.
	CombineAfterSearch CombinationStrategy = "after_search"

	// CombineInWorker checks every new mixed node against the current
	// counter-partial definitions inside the worker task.
	CombineInWorker CombinationStrategy = "in_worker"

	// CombineNone disables combination.
	CombineNone CombinationStrategy = "none"
)

// Valid reports whether the strategy is known.
func (s CombinationStrategy) Valid() bool {
	switch s {
	case CombineAfterSearch, CombineInWorker, CombineNone:
		return true
	}
	return false
}

// Config contains all learner settings.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after Start.
type Config struct {
	// NoisePercentage is the fraction (0..1) of positives allowed to stay uncovered.
	NoisePercentage float64 `json:"noise_percentage" yaml:"noise_percentage"`

	// MaxExecutionTimeInSeconds bounds the search loop. 0 means unbounded.
	MaxExecutionTimeInSeconds int `json:"max_execution_time_in_seconds" yaml:"max_execution_time_in_seconds"`

	// NumberOfWorkers is the size of the worker pool.
	NumberOfWorkers int `json:"number_of_workers" yaml:"number_of_workers"`

	// MaxTaskQueueLength bounds the task queue; the scheduler waits while it is full.
	MaxTaskQueueLength int `json:"max_task_queue_length" yaml:"max_task_queue_length"`

	// ForceRefinementLengthIncrease discards mixed nodes whose horizontal
	// expansion exceeds MaxHorizontalExpansion.
	ForceRefinementLengthIncrease bool `json:"force_refinement_length_increase" yaml:"force_refinement_length_increase"`

	// MaxHorizontalExpansion is the plateau cap used by ForceRefinementLengthIncrease.
	MaxHorizontalExpansion uint32 `json:"max_horizontal_expansion" yaml:"max_horizontal_expansion"`

	// Heuristic contains the node scoring weights.
	Heuristic HeuristicConfig `json:"heuristic" yaml:"heuristic"`

	// Combination selects the counter-partial combination strategy.
	Combination CombinationStrategy `json:"combination" yaml:"combination"`

	// StopGracePeriod bounds how long a stopping run waits for in-flight tasks.
	StopGracePeriod time.Duration `json:"stop_grace_period" yaml:"stop_grace_period"`

	// BackpressureInterval is the scheduler sleep while the task queue is full.
	BackpressureInterval time.Duration `json:"backpressure_interval" yaml:"backpressure_interval"`

	// IdleInterval is the scheduler sleep while the frontier is empty but
	// tasks are still in flight.
	IdleInterval time.Duration `json:"idle_interval" yaml:"idle_interval"`

	// ProgressInterval throttles progress logging. 0 disables it.
	ProgressInterval time.Duration `json:"progress_interval" yaml:"progress_interval"`

	// Observability contains tracing settings.
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// HeuristicConfig contains the scoring weights.
type HeuristicConfig struct {
	NegativeWeight         float64 `json:"negative_weight" yaml:"negative_weight"`
	StartNodeBonus         float64 `json:"start_node_bonus" yaml:"start_node_bonus"`
	ExpansionPenaltyFactor float64 `json:"expansion_penalty_factor" yaml:"expansion_penalty_factor"`
	NegationPenalty        float64 `json:"negation_penalty" yaml:"negation_penalty"`
}

// ObservabilityConfig contains observability settings.
type ObservabilityConfig struct {
	TracingEnabled bool `json:"tracing_enabled" yaml:"tracing_enabled"`
}

// DefaultHeuristicConfig returns the default scoring weights.
func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		NegativeWeight:         1.0,
		StartNodeBonus:         0.1,
		ExpansionPenaltyFactor: 0.02,
		NegationPenalty:        0,
	}
}

// DefaultConfig returns the default configuration.
//
// Outputs:
//   - Config: Default configuration with sensible values.
func DefaultConfig() Config {
	return Config{
		NoisePercentage:               0,
		MaxExecutionTimeInSeconds:     60,
		NumberOfWorkers:               4,
		MaxTaskQueueLength:            1000,
		ForceRefinementLengthIncrease: true,
		MaxHorizontalExpansion:        10,
		Heuristic:                     DefaultHeuristicConfig(),
		Combination:                   CombineAfterSearch,
		StopGracePeriod:               2 * time.Second,
		BackpressureInterval:          20 * time.Millisecond,
		IdleInterval:                  5 * time.Millisecond,
		ProgressInterval:              5 * time.Second,
		Observability: ObservabilityConfig{
			TracingEnabled: true,
		},
	}
}

// LoadConfig loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - configPath: Path to YAML/JSON config file (optional, can be empty).
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but is invalid, or validation fails.
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(config *Config) {
	if v := os.Getenv("PARCEL_NOISE_PERCENTAGE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.NoisePercentage = f
		}
	}
	if v := os.Getenv("PARCEL_MAX_EXECUTION_TIME"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.MaxExecutionTimeInSeconds = i
		}
	}
	if v := os.Getenv("PARCEL_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.NumberOfWorkers = i
		}
	}
	if v := os.Getenv("PARCEL_MAX_TASK_QUEUE_LENGTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.MaxTaskQueueLength = i
		}
	}
	if v := os.Getenv("PARCEL_FORCE_LENGTH_INCREASE"); v != "" {
		config.ForceRefinementLengthIncrease = v == "true" || v == "1"
	}
	if v := os.Getenv("PARCEL_MAX_HORIZONTAL_EXPANSION"); v != "" {
		if i, err := strconv.ParseUint(v, 10, 32); err == nil {
			config.MaxHorizontalExpansion = uint32(i)
		}
	}
	if v := os.Getenv("PARCEL_COMBINATION"); v != "" {
		config.Combination = CombinationStrategy(v)
	}
	if v := os.Getenv("PARCEL_NEGATIVE_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Heuristic.NegativeWeight = f
		}
	}
	if v := os.Getenv("PARCEL_START_NODE_BONUS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Heuristic.StartNodeBonus = f
		}
	}
	if v := os.Getenv("PARCEL_EXPANSION_PENALTY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Heuristic.ExpansionPenaltyFactor = f
		}
	}
	if v := os.Getenv("PARCEL_NEGATION_PENALTY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Heuristic.NegationPenalty = f
		}
	}
	if v := os.Getenv("PARCEL_STOP_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.StopGracePeriod = d
		}
	}
	if v := os.Getenv("PARCEL_TRACING_ENABLED"); v != "" {
		config.Observability.TracingEnabled = v == "true" || v == "1"
	}
}

// Validate checks that the configuration is valid.
//
// Outputs:
//   - error: Wraps ErrInvalidConfig if a value is out of range.
func (c Config) Validate() error {
	if c.NoisePercentage < 0 || c.NoisePercentage > 1 {
		return fmt.Errorf("%w: noise_percentage must be between 0 and 1", ErrInvalidConfig)
	}
	if c.MaxExecutionTimeInSeconds < 0 {
		return fmt.Errorf("%w: max_execution_time_in_seconds must be >= 0", ErrInvalidConfig)
	}
	if c.NumberOfWorkers < 1 {
		return fmt.Errorf("%w: number_of_workers must be >= 1", ErrInvalidConfig)
	}
	if c.MaxTaskQueueLength < 1 {
		return fmt.Errorf("%w: max_task_queue_length must be >= 1", ErrInvalidConfig)
	}
	if c.Heuristic.NegativeWeight < 0 {
		return fmt.Errorf("%w: negative_weight must be >= 0", ErrInvalidConfig)
	}
	if !c.Combination.Valid() {
		return fmt.Errorf("%w: unknown combination strategy %q", ErrInvalidConfig, c.Combination)
	}
	if c.StopGracePeriod < 0 || c.BackpressureInterval <= 0 || c.IdleInterval <= 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	}
	return nil
}

// NoiseAllowance returns how many positives may stay uncovered.
//
// The product is rounded up, with a small tolerance so that values such as
// 0.7 * 10 are not pushed to the next integer by floating point error.
func (c Config) NoiseAllowance(positives int) int {
	return int(math.Ceil(c.NoisePercentage*float64(positives) - 1e-9))
}

// MaxExecutionTime returns the search time limit, 0 for unbounded.
func (c Config) MaxExecutionTime() time.Duration {
	return time.Duration(c.MaxExecutionTimeInSeconds) * time.Second
}
