package session

import (
	"context"
	"log"
	"sync"
	"time"
)

type writeJob struct {
	conversationID string
	msg            Message
}

// durableWriter drains history writes to the slow tier off the request
// path. Writes are retried a few times and logged when they still fail.
type durableWriter struct {
	durable  DurableLog
	jobs     chan writeJob
	wg       sync.WaitGroup
	attempts int
	backoff  time.Duration

	closeOnce sync.Once
}

func newDurableWriter(durable DurableLog, workers, queueSize, attempts int, backoff time.Duration) *durableWriter {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	w := &durableWriter{
		durable:  durable,
		jobs:     make(chan writeJob, queueSize),
		attempts: attempts,
		backoff:  backoff,
	}

	w.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer w.wg.Done()
			for job := range w.jobs {
				w.write(job)
			}
		}()
	}
	return w
}

// enqueue never blocks the request path. A full queue drops the write
// and reports false; the caller decides whether that is fatal.
func (w *durableWriter) enqueue(conversationID string, msg Message) bool {
	select {
	case w.jobs <- writeJob{conversationID: conversationID, msg: msg}:
		return true
	default:
		return false
	}
}

func (w *durableWriter) write(job writeJob) {
	for attempt := 1; attempt <= w.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.durable.Append(ctx, job.conversationID, job.msg)
		cancel()
		if err == nil {
			return
		}
		log.Printf("durable append failed conversation_id=%s attempt=%d err=%v", job.conversationID, attempt, err)
		if attempt < w.attempts {
			time.Sleep(w.backoff * time.Duration(attempt))
		}
	}
	log.Printf("durable append dropped conversation_id=%s attempts=%d", job.conversationID, w.attempts)
}

// close drains every queued write before returning.
func (w *durableWriter) close() {
	w.closeOnce.Do(func() { close(w.jobs) })
	w.wg.Wait()
}
