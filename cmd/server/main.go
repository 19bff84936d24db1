package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/telkom-research/paperchat/internal/config"
	"github.com/telkom-research/paperchat/internal/httpapi"
	"github.com/telkom-research/paperchat/internal/httpapi/handlers"
	"github.com/telkom-research/paperchat/internal/jobs"
	"github.com/telkom-research/paperchat/internal/pipeline"
	"github.com/telkom-research/paperchat/internal/retrieval"
	"github.com/telkom-research/paperchat/internal/session"
	"github.com/telkom-research/paperchat/internal/store/gormlog"
	"github.com/telkom-research/paperchat/internal/store/rabbitmq"
	"github.com/telkom-research/paperchat/internal/store/redisstore"
	"github.com/telkom-research/paperchat/internal/stream"
)

func main() {
	cfg := config.Load()

	db, err := gormlog.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := gormlog.Migrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	if err := jobs.Migrate(db); err != nil {
		log.Fatalf("jobs migrate: %v", err)
	}

	rdb := redisstore.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// history degrades to the durable tier until redis is back
		log.Printf("redis unreachable addr=%s err=%v", cfg.RedisAddr, err)
	}
	pingCancel()

	cache := redisstore.New(rdb, cfg.SessionTTL)
	durable := gormlog.NewLog(db)

	sessions := session.NewManager(cache, durable, session.Options{
		MaxMessages:    cfg.SessionMaxMessages,
		WriteQueueSize: cfg.DurableQueueSize,
		WriteWorkers:   cfg.DurableWriteWorkers,
		WriteAttempts:  cfg.DurableWriteAttempts,
	})
	defer sessions.Close()

	reg := pipeline.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (pipeline.Pipeline, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return pipeline.NewOllama(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (pipeline.Pipeline, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return pipeline.NewOpenRouter(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	pipe, err := reg.Get(context.Background(), cfg.PipelineProvider, "")
	if err != nil {
		log.Fatalf("pipeline provider: %v", err)
	}

	dispatcher := stream.NewDispatcher(pipe, sessions, stream.Options{
		IdleTimeout: cfg.StreamIdleTimeout,
		HardTimeout: cfg.StreamHardTimeout,
	})

	var retr retrieval.Retriever = retrieval.Empty{}
	if fr, err := retrieval.NewFileRetriever(cfg.PapersPath); err != nil {
		log.Printf("retrieval corpus unavailable path=%s err=%v", cfg.PapersPath, err)
	} else {
		retr = fr
	}

	jobsRepo := jobs.NewRepo(db)

	var pub *rabbitmq.Publisher
	if p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue); err != nil {
		log.Printf("rabbit unavailable, async chat disabled err=%v", err)
	} else {
		pub = p
		defer pub.Close()
	}

	h := handlers.NewHandler(cfg, sessions, dispatcher, retr, durable, jobsRepo, pub)
	r := httpapi.NewRouter(cfg, h)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Printf("server listening addr=%s provider=%s", cfg.HTTPAddr, cfg.PipelineProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
