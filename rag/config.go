// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"os"
	"strconv"
)

// Config holds tuning knobs for the retrieval pipeline.
//
// # Example
//
//	config := DefaultConfig()
//	config.SemanticTopK = 5  // Widen semantic retrieval
//	pipeline := NewPipeline(deps, config)
type Config struct {
	// RelevantTopK is how many recent extractions feed the relevant-context
	// block. Default: 5.
	RelevantTopK int

	// SemanticTopK is how many matches the semantic-context search requests.
	// Default: 3.
	SemanticTopK int

	// SemanticThreshold is the minimum certainty for a semantic match to be
	// included. Default: 0.7.
	SemanticThreshold float64

	// MultiQueryN is how many query variants multi-query retrieval uses,
	// counting the original. Default: 3.
	MultiQueryN int

	// HistoryWindow is how many trailing messages the rewrite and prompt
	// steps consider. Default: 4.
	HistoryWindow int
}

// DefaultConfig returns pipeline defaults, overridable via environment:
//   - RAG_RELEVANT_TOP_K (default: 5)
//   - RAG_SEMANTIC_TOP_K (default: 3)
//   - RAG_SEMANTIC_THRESHOLD (default: 0.7)
//   - RAG_MULTIQUERY_N (default: 3)
//   - RAG_HISTORY_WINDOW (default: 4)
func DefaultConfig() Config {
	return Config{
		RelevantTopK:      getEnvInt("RAG_RELEVANT_TOP_K", 5),
		SemanticTopK:      getEnvInt("RAG_SEMANTIC_TOP_K", 3),
		SemanticThreshold: getEnvFloat("RAG_SEMANTIC_THRESHOLD", 0.7),
		MultiQueryN:       getEnvInt("RAG_MULTIQUERY_N", 3),
		HistoryWindow:     getEnvInt("RAG_HISTORY_WINDOW", 4),
	}
}

// validateConfig corrects out-of-range values back to defaults.
func validateConfig(config Config) Config {
	defaults := DefaultConfig()

	if config.RelevantTopK < 1 {
		config.RelevantTopK = defaults.RelevantTopK
	}
	if config.SemanticTopK < 1 {
		config.SemanticTopK = defaults.SemanticTopK
	}
	if config.SemanticThreshold < 0 || config.SemanticThreshold > 1 {
		config.SemanticThreshold = defaults.SemanticThreshold
	}
	if config.MultiQueryN < 1 {
		config.MultiQueryN = defaults.MultiQueryN
	}
	if config.HistoryWindow < 1 {
		config.HistoryWindow = defaults.HistoryWindow
	}
	return config
}

// getEnvInt returns an environment variable as int, or defaultVal if not set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvFloat returns an environment variable as float64, or defaultVal if not set/invalid.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
