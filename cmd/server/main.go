// Command server runs the HTTP/SSE API and the worker claim loop in one
// process, sharing a single *broker.Broker instance between them.
//
// spec.md's concurrency model assumes exactly one shared broker instance
// (§1 Non-goals: "horizontal replication of broker state"); internal/broker
// has no network-shared backend (it is an in-process queue plus pub/sub —
// see its package doc), so a job enqueued by one *broker.Broker is only
// ever visible to Claim calls against that same instance. Running the API
// and the worker as separate OS processes each constructing their own
// broker.New(...) would enqueue jobs into a queue the other process can
// never claim from. This binary is the supported deployment: one process,
// one broker, both roles. Splitting API serving and job processing into
// independent, horizontally-scaled processes requires a real shared
// backend for internal/broker that does not exist in this tree yet.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelhq/qaflow/internal/api"
	"github.com/kestrelhq/qaflow/internal/broker"
	"github.com/kestrelhq/qaflow/internal/config"
	"github.com/kestrelhq/qaflow/internal/graph"
	"github.com/kestrelhq/qaflow/internal/metrics"
	"github.com/kestrelhq/qaflow/internal/model"
	"github.com/kestrelhq/qaflow/internal/model/anthropic"
	"github.com/kestrelhq/qaflow/internal/model/google"
	"github.com/kestrelhq/qaflow/internal/model/openai"
	"github.com/kestrelhq/qaflow/internal/nodes"
	"github.com/kestrelhq/qaflow/internal/session"
	"github.com/kestrelhq/qaflow/internal/store"
	"github.com/kestrelhq/qaflow/internal/summarize"
	"github.com/kestrelhq/qaflow/internal/tool"
	"github.com/kestrelhq/qaflow/internal/tracing"
	"github.com/kestrelhq/qaflow/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if cfg.BrokerURL != "" {
		logger.Warn("BROKER_URL is set but no shared broker backend is implemented; "+
			"this process always uses the in-process broker and ignores BROKER_URL",
			"broker_url", cfg.BrokerURL)
	}

	shutdownTracing := tracing.Setup("qaflow-server")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()
	tracer := tracing.New()

	checkpointStore, err := store.Open(cfg.StoreURL)
	if err != nil {
		logger.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer checkpointStore.Close()

	feedbackStore, ok := checkpointStore.(store.FeedbackStore)
	if !ok {
		logger.Error("configured store does not implement feedback persistence")
		os.Exit(1)
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	b := broker.New(cfg.ReplayBuffer, cfg.SubGrace)
	go sweepLoop(b, cfg.SubGrace)
	go pollGauges(b, m, 5*time.Second)

	sessions := session.New(checkpointStore)
	chatModel := selectModel(cfg)
	registry := buildToolRegistry(cfg)

	summarizer := summarize.NewSummarizer(chatModel, summarize.Config{
		HierarchicalThreshold: cfg.HierarchicalThreshold,
		ChunkSize:             cfg.ChunkSize,
		KeepRecentMessages:    cfg.KeepRecentMessages,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backlog := summarize.NewBacklogWorker(checkpointStore, summarizer, logger, summarize.BacklogConfig{})
	backlog.Start(ctx)
	defer backlog.Stop()

	newEngine := func() *graph.Engine {
		return graph.New(map[graph.NodeID]graph.Node{
			graph.NodeRouter:     nodes.NewRouter(chatModel, registry, cfg.KeepRecentMessages),
			graph.NodePlanner:    nodes.NewPlanner(chatModel),
			graph.NodeRetrieval:  nodes.NewRetrieval(registry, cfg.FallbackWebOnEmptyRetrieval),
			graph.NodeGenerator:  nodes.NewGenerator(chatModel, registry),
			graph.NodeCritic:     nodes.NewCritic(chatModel),
			graph.NodeTranslator: nodes.NewTranslator(chatModel, "en"),
			graph.NodeSummarize:  nodes.NewSummarize(summarizer),
			graph.NodeFinalize:   nodes.NewFinalize(),
		}, b, sessions, graph.Options{
			MaxRevisions:         cfg.MaxRevisions,
			DefaultNodeTimeout:   cfg.TNode,
			RetrievalNodeTimeout: cfg.TNodeRetr,
			GeneratorNodeTimeout: cfg.TNodeGen,
			JobDeadline:          cfg.TJob,
			RetryPolicy:          &graph.RetryPolicy{MaxAttempts: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
			Tracer:               tracer,
			Metrics:              m,
		})
	}

	w := worker.New(b, b, sessions, newEngine, logger, worker.Config{
		ClaimTimeout: cfg.TClaim,
		Concurrency:  concurrencyFromEnv(),
	}).WithMetrics(m)

	srv := api.New(b, b, sessions, feedbackStore, registry, func() bool { return true }, "", logger)
	srv.Router.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:         addrFromEnv(),
		Handler:      srv.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams can run indefinitely
	}

	go func() {
		logger.Info("server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		logger.Info("worker claim loop started", "concurrency", concurrencyFromEnv())
		w.Run(ctx)
		close(workerDone)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	<-workerDone
}

func selectModel(cfg config.Config) model.ChatModel {
	switch os.Getenv("LLM_PROVIDER") {
	case "openai":
		return openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), cfg.LLMModel)
	case "google":
		return google.NewChatModel(os.Getenv("GOOGLE_API_KEY"), cfg.LLMModel)
	default:
		return anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), cfg.LLMModel)
	}
}

// buildToolRegistry wires always-available tools. web_search and
// internal_retrieval are deliberately absent: this system does not
// implement a real search engine or vector store, so without a concrete
// SearchBackend/RetrievalBackend to inject there is nothing honest to
// register — an operator with a real backend wires
// tool.NewWebSearch(backend, timeout) / tool.NewInternalRetrieval(backend,
// timeout) in here, keyed off cfg.WebSearchKey / cfg.RetrieverIndexPath.
func buildToolRegistry(cfg config.Config) *tool.Registry {
	return tool.NewRegistry(tool.NewCalculator(), tool.NewTargetedCrawl(tool.NewHTTPTool()))
}

func concurrencyFromEnv() int {
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

func addrFromEnv() string {
	if v := os.Getenv("API_ADDR"); v != "" {
		return v
	}
	return ":8080"
}

// pollGauges periodically samples queue depth and subscriber count, since
// both are point-in-time reads of broker-internal maps rather than events
// the broker itself could push to a counter.
func pollGauges(b *broker.Broker, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		m.SetQueueDepth(b.QueueDepth())
		m.SetSubscribers(b.SubscriberCount())
	}
}

func sweepLoop(b *broker.Broker, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		b.Sweep()
	}
}
