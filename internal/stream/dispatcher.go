package stream

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/telkom-research/paperchat/internal/pipeline"
	"github.com/telkom-research/paperchat/internal/session"
)

// ErrStalled reports that the pipeline produced nothing for longer than
// the idle timeout.
var ErrStalled = errors.New("stream: generation stalled")

const stalledMsg = "generation stalled"
const timedOutMsg = "generation timed out"

// Input is one fully prepared turn: context already retrieved, history
// already loaded.
type Input struct {
	ConversationID string
	Query          string
	Context        string
	History        []session.Message
	Meta           session.Meta
}

type Options struct {
	// IdleTimeout bounds the gap between consecutive pipeline
	// increments; HardTimeout bounds the whole generation.
	IdleTimeout time.Duration
	HardTimeout time.Duration
}

// Dispatcher turns pipeline output into the ordered event stream:
// start, then increments, then exactly one of done or error. History is
// appended only on the done path, and never for incognito turns or
// cancelled clients.
type Dispatcher struct {
	pipe     pipeline.Pipeline
	sessions *session.Manager
	idle     time.Duration
	hard     time.Duration
}

func NewDispatcher(pipe pipeline.Pipeline, sessions *session.Manager, opts Options) *Dispatcher {
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 30 * time.Second
	}
	hard := opts.HardTimeout
	if hard <= 0 {
		hard = 5 * time.Minute
	}
	return &Dispatcher{pipe: pipe, sessions: sessions, idle: idle, hard: hard}
}

// Run streams one turn. The returned channel is closed after the
// terminal event; when the client context dies mid-stream it is closed
// without one.
func (d *Dispatcher) Run(ctx context.Context, in Input) <-chan Event {
	out := make(chan Event, 16)
	go d.run(ctx, in, out)
	return out
}

func (d *Dispatcher) run(ctx context.Context, in Input, out chan<- Event) {
	defer close(out)

	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, d.hard)
	defer cancel()

	incs, results, errs := d.pipe.Run(genCtx, pipeline.Request{
		Query:    in.Query,
		Context:  in.Context,
		History:  in.History,
		Language: in.Meta.Language,
	})

	st := stateIdle
	if !advance(&st, stateStarted) || !emit(StartEvent(in.ConversationID, time.Now().UTC())) {
		return
	}

	idle := time.NewTimer(d.idle)
	defer idle.Stop()

	handleInc := func(inc pipeline.Increment, ok bool) bool {
		if !ok {
			// terminal value is on its way
			incs = nil
			return true
		}
		if !advance(&st, stateStreaming) {
			return false
		}
		resetTimer(idle, d.idle)
		ev := TokenEvent(inc.Text)
		if inc.Kind == pipeline.IncrementRationale {
			ev = RationaleEvent(inc.Text)
		}
		return emit(ev)
	}

	for {
		// increments already buffered go out before any terminal value,
		// keeping emission faithful to generation order
		if incs != nil {
			select {
			case inc, ok := <-incs:
				if !handleInc(inc, ok) {
					return
				}
				continue
			default:
			}
		}

		select {
		case inc, ok := <-incs:
			if !handleInc(inc, ok) {
				return
			}

		case res := <-results:
			advance(&st, stateTerminated)
			if ctx.Err() != nil {
				// client gone: no append, no done
				return
			}
			d.appendTurn(ctx, in, res)
			emit(DoneEvent(res.Answer, res.Sources))
			return

		case err := <-errs:
			advance(&st, stateTerminated)
			if ctx.Err() != nil {
				return
			}
			log.Printf("pipeline failed conversation_id=%s err=%v", in.ConversationID, err)
			msg := err.Error()
			if genCtx.Err() != nil {
				// the failure is the hard deadline surfacing through
				// the pipeline; report it as such
				msg = timedOutMsg
			}
			emit(ErrorEvent(msg))
			return

		case <-idle.C:
			advance(&st, stateTerminated)
			if ctx.Err() != nil {
				return
			}
			log.Printf("pipeline stalled conversation_id=%s idle=%s", in.ConversationID, d.idle)
			emit(ErrorEvent(stalledMsg))
			return

		case <-genCtx.Done():
			advance(&st, stateTerminated)
			if ctx.Err() != nil {
				// client cancelled; nobody is listening
				return
			}
			log.Printf("pipeline hit hard timeout conversation_id=%s hard=%s", in.ConversationID, d.hard)
			emit(ErrorEvent(timedOutMsg))
			return
		}
	}
}

// Collect runs one turn to completion without streaming. Increments are
// drained and discarded; history follows the same rules as Run.
func (d *Dispatcher) Collect(ctx context.Context, in Input) (pipeline.Result, error) {
	genCtx, cancel := context.WithTimeout(ctx, d.hard)
	defer cancel()

	incs, results, errs := d.pipe.Run(genCtx, pipeline.Request{
		Query:    in.Query,
		Context:  in.Context,
		History:  in.History,
		Language: in.Meta.Language,
	})

	idle := time.NewTimer(d.idle)
	defer idle.Stop()

	for {
		select {
		case _, ok := <-incs:
			if !ok {
				incs = nil
				continue
			}
			resetTimer(idle, d.idle)

		case res := <-results:
			if ctx.Err() != nil {
				return pipeline.Result{}, ctx.Err()
			}
			d.appendTurn(ctx, in, res)
			return res, nil

		case err := <-errs:
			if cerr := ctx.Err(); cerr != nil {
				return pipeline.Result{}, cerr
			}
			if gerr := genCtx.Err(); gerr != nil {
				return pipeline.Result{}, gerr
			}
			return pipeline.Result{}, err

		case <-idle.C:
			return pipeline.Result{}, ErrStalled

		case <-genCtx.Done():
			return pipeline.Result{}, genCtx.Err()
		}
	}
}

// appendTurn records a completed turn unless the request was incognito
// or anonymous. The write is detached from the client context so a
// disconnect after completion cannot tear it down mid-flight.
func (d *Dispatcher) appendTurn(ctx context.Context, in Input, res pipeline.Result) {
	if d.sessions == nil || session.IsIncognito(in.Meta) || in.ConversationID == "" {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := d.sessions.Append(actx, in.ConversationID, session.Message{
		Question: in.Query,
		Answer:   res.Answer,
		Sources:  res.Sources,
	}, true)
	if err != nil {
		log.Printf("history append failed conversation_id=%s err=%v", in.ConversationID, err)
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
