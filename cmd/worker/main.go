package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/telkom-research/paperchat/internal/config"
	"github.com/telkom-research/paperchat/internal/jobs"
	"github.com/telkom-research/paperchat/internal/pipeline"
	"github.com/telkom-research/paperchat/internal/retrieval"
	"github.com/telkom-research/paperchat/internal/session"
	"github.com/telkom-research/paperchat/internal/store/gormlog"
	"github.com/telkom-research/paperchat/internal/store/rabbitmq"
	"github.com/telkom-research/paperchat/internal/store/redisstore"
	"github.com/telkom-research/paperchat/internal/stream"
)

type jobMsg struct {
	JobID string `json:"job_id"`
}

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

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

	repo := jobs.NewRepo(db)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	//  strict concurrency control
	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	w := &worker{
		cfg:        cfg,
		repo:       repo,
		sessions:   sessions,
		dispatcher: dispatcher,
		retriever:  retr,
	}

	// worker pool
	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				var m jobMsg
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := w.handleJob(ctx, m.JobID); err != nil {
					log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
				}
			}
		}(i)
	}

	// dispatcher loop
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			deliveries <- d
		}
	}
}

type worker struct {
	cfg        config.Config
	repo       *jobs.Repo
	sessions   *session.Manager
	dispatcher *stream.Dispatcher
	retriever  retrieval.Retriever
}

func (w *worker) handleJob(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	_ = w.repo.MarkRunning(ctx, jobID)

	j, err := w.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	meta := session.Meta{
		ConversationID:   j.ConversationID,
		Language:         j.Language,
		SourcePreference: j.SourcePreference,
	}

	in := stream.Input{
		ConversationID: j.ConversationID,
		Query:          j.Query,
		History:        w.sessions.GetHistory(ctx, j.ConversationID, w.cfg.HistoryWindowSize),
		Meta:           meta,
	}
	if meta.SourcePreference != "only_general" && w.retriever != nil {
		passages, rerr := w.retriever.Retrieve(ctx, j.Query, w.cfg.RetrievalTopK)
		if rerr != nil {
			log.Printf("retrieval failed job=%s err=%v", jobID, rerr)
		} else {
			in.Context = retrieval.FormatContext(passages)
		}
	}

	res, err := w.dispatcher.Collect(ctx, in)
	genCost := time.Since(jobStart)
	if err != nil {
		_ = w.repo.MarkFailed(ctx, jobID, err.Error())
		log.Printf("job_timing_failed job=%s gen=%s total=%s err=%v", jobID, genCost, time.Since(jobStart), err)
		return err
	}

	if err := w.repo.MarkSucceeded(ctx, jobID, res.Answer, res.Sources); err != nil {
		log.Printf("job_timing_failed job=%s gen=%s total=%s err=%v", jobID, genCost, time.Since(jobStart), err)
		return err
	}

	if total := time.Since(jobStart); total > 2*time.Second {
		log.Printf("job_timing job=%s gen=%s total=%s", jobID, genCost, total)
	}

	return nil
}
