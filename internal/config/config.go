// Package config loads the environment-driven settings recognized by the
// worker and API server: revision/summarization budgets, timeouts, and
// backend connection strings. `.env` is loaded first if present, then
// os.Getenv always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime-tunable setting for the engine, worker, and
// HTTP API.
type Config struct {
	LLMModel string

	MaxRevisions           int
	HierarchicalThreshold  int
	ChunkSize              int
	KeepRecentMessages     int

	TClaim      time.Duration
	TNode       time.Duration
	TNodeRetr   time.Duration // retrieval node override
	TNodeGen    time.Duration // generator node override
	TJob        time.Duration
	SubGrace    time.Duration
	ReplayBuffer int

	BrokerURL          string
	StoreURL           string
	WebSearchKey       string
	RetrieverIndexPath string

	FallbackWebOnEmptyRetrieval bool
}

// Default returns the recommended configuration defaults.
func Default() Config {
	return Config{
		LLMModel:                    "gpt-4o-mini",
		MaxRevisions:                2,
		HierarchicalThreshold:       100,
		ChunkSize:                   20,
		KeepRecentMessages:          4,
		TClaim:                      5 * time.Second,
		TNode:                       60 * time.Second,
		TNodeRetr:                   120 * time.Second,
		TNodeGen:                    180 * time.Second,
		TJob:                        10 * time.Minute,
		SubGrace:                    300 * time.Second,
		ReplayBuffer:                64,
		StoreURL:                    "file:./qaflow.db",
		FallbackWebOnEmptyRetrieval: true,
	}
}

// Load reads `.env` (if present, priority over nothing — real environment
// variables always win) and overlays it onto Default().
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: failed to load .env: %w", err)
	}

	c := Default()

	c.LLMModel = getString("LLM_MODEL", c.LLMModel)
	c.MaxRevisions = getInt("MAX_REVISIONS", c.MaxRevisions)
	c.HierarchicalThreshold = getInt("HIERARCHICAL_THRESHOLD", c.HierarchicalThreshold)
	c.ChunkSize = getInt("CHUNK_SIZE", c.ChunkSize)
	c.KeepRecentMessages = getInt("KEEP_RECENT_MESSAGES", c.KeepRecentMessages)

	c.TClaim = getDuration("T_CLAIM", c.TClaim)
	c.TNode = getDuration("T_NODE", c.TNode)
	c.TJob = getDuration("T_JOB", c.TJob)
	c.SubGrace = getDuration("SUB_GRACE", c.SubGrace)
	c.ReplayBuffer = getInt("REPLAY_BUFFER", c.ReplayBuffer)

	c.BrokerURL = getString("BROKER_URL", c.BrokerURL)
	c.StoreURL = getString("STORE_URL", c.StoreURL)
	c.WebSearchKey = getString("WEB_SEARCH_KEY", c.WebSearchKey)
	c.RetrieverIndexPath = getString("RETRIEVER_INDEX_PATH", c.RetrieverIndexPath)

	c.FallbackWebOnEmptyRetrieval = getBool("FALLBACK_WEB_ON_EMPTY_RETRIEVAL", c.FallbackWebOnEmptyRetrieval)

	return c, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	// Accept either a Go duration string ("30s") or a bare integer of seconds.
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
