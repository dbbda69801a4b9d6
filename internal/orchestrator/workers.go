package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/jasonewillis/specialists/internal/registry"
	"github.com/jasonewillis/specialists/pkg/models"
)

// outcome is the settled result of one invocation. Exactly one of result
// and err is meaningful.
type outcome struct {
	result models.WorkerResult
	err    *models.WorkerError
}

func (o outcome) duration() time.Duration {
	if o.err != nil {
		return o.err.Duration
	}
	return o.result.Duration
}

func (r *run) request(id models.WorkerID, previous string) registry.InvokeRequest {
	return registry.InvokeRequest{
		WorkerID:       id,
		TaskType:       r.st.Classification.TaskType,
		Query:          r.st.OriginalQuery,
		PreviousResult: previous,
		HumanInput:     maps.Clone(r.st.HumanInput),
		Profile:        maps.Clone(r.st.Profile),
	}
}

// fanOut invokes every selected worker without an outcome concurrently and
// waits for all of them to settle. Outcomes are written by the calling
// goroutine in selection order.
func (r *run) fanOut(ctx context.Context, phase models.Phase) error {
	var (
		ids     []models.WorkerID
		handles []registry.Handle
		reqs    []registry.InvokeRequest
	)
	for _, id := range r.st.Classification.Workers() {
		if r.st.HasOutcome(id) {
			continue
		}
		h, err := r.e.registry.Lookup(id)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		handles = append(handles, h)
		reqs = append(reqs, r.request(id, ""))
	}
	if len(ids) == 0 {
		return nil
	}

	for _, id := range ids {
		r.st.MarkDispatched(id)
		r.emit(ctx, models.Event{Type: models.EventWorkerStarted, Phase: phase, WorkerID: id})
	}
	r.log.Info("dispatching workers", "phase", phase, "count", len(ids))

	type settled struct {
		i int
		o outcome
	}
	// In-flight invocations are not interrupted by run cancellation.
	invokeCtx := context.WithoutCancel(ctx)
	results := make(chan settled, len(ids))
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- settled{i: i, o: r.e.invoke(invokeCtx, handles[i], reqs[i])}
		}(i)
	}
	wg.Wait()
	close(results)

	outcomes := make([]outcome, len(ids))
	for s := range results {
		outcomes[s.i] = s.o
	}

	cancelled := ctx.Err() != nil
	for i, id := range ids {
		o := outcomes[i]
		if cancelled {
			o = outcome{err: &models.WorkerError{
				Message:  "run cancelled; result discarded",
				Duration: o.duration(),
			}}
		}
		r.record(ctx, phase, id, o)
	}
	if cancelled {
		return errCancelled
	}
	return nil
}

// chain invokes the selected workers one after another. Each worker gets
// the last successful output as PreviousResult. A failure is recorded and
// the chain continues.
func (r *run) chain(ctx context.Context, phase models.Phase) error {
	previous := ""
	for _, id := range r.st.Classification.Workers() {
		if res, ok := r.st.WorkerResults[id]; ok {
			previous = res.Output
			continue
		}
		if r.st.HasOutcome(id) {
			continue
		}
		if ctx.Err() != nil {
			return errCancelled
		}
		h, err := r.e.registry.Lookup(id)
		if err != nil {
			return err
		}

		r.st.MarkDispatched(id)
		r.emit(ctx, models.Event{Type: models.EventWorkerStarted, Phase: phase, WorkerID: id})
		o := r.e.invoke(context.WithoutCancel(ctx), h, r.request(id, previous))
		r.record(ctx, phase, id, o)
		if o.err == nil {
			previous = o.result.Output
		}
	}
	return nil
}

func (r *run) record(ctx context.Context, phase models.Phase, id models.WorkerID, o outcome) {
	ms := o.duration().Milliseconds()
	if o.err != nil {
		if !r.st.RecordError(id, *o.err) {
			return
		}
		r.log.Warn("worker failed", "worker", id, "timed_out", o.err.TimedOut, "duration", o.err.Duration, "error", o.err.Message)
		r.emit(ctx, models.Event{
			Type:     models.EventWorkerFailed,
			Phase:    phase,
			WorkerID: id,
			Message:  o.err.Message,
			Payload:  map[string]any{"duration_ms": ms, "timed_out": o.err.TimedOut},
		})
		return
	}
	if !r.st.RecordResult(id, o.result) {
		return
	}
	r.log.Debug("worker completed", "worker", id, "duration", o.result.Duration)
	r.emit(ctx, models.Event{
		Type:     models.EventWorkerCompleted,
		Phase:    phase,
		WorkerID: id,
		Payload:  map[string]any{"duration_ms": ms, "output_chars": len(o.result.Output)},
	})
}

// invoke calls h with its own deadline. A handle that ignores its context
// is abandoned when the deadline passes; a panic becomes a WorkerError.
func (e *Engine) invoke(ctx context.Context, h registry.Handle, req registry.InvokeRequest) outcome {
	start := time.Now()
	wctx, cancel := context.WithTimeout(ctx, e.opts.workerTimeout)
	defer cancel()

	type reply struct {
		res registry.InvokeResult
		err error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- reply{err: fmt.Errorf("worker panic: %v", p)}
			}
		}()
		res, err := h.Invoke(wctx, req)
		done <- reply{res: res, err: err}
	}()

	var rep reply
	select {
	case rep = <-done:
	case <-wctx.Done():
		rep = reply{err: fmt.Errorf("worker %s: %w", req.WorkerID, wctx.Err())}
	}
	elapsed := time.Since(start)

	switch {
	case rep.err != nil:
		return outcome{err: &models.WorkerError{
			Message:  rep.err.Error(),
			TimedOut: errors.Is(rep.err, context.DeadlineExceeded),
			Duration: elapsed,
		}}
	case !rep.res.Success:
		msg := "worker reported failure"
		if rep.res.Output != "" {
			msg += ": " + truncate(rep.res.Output, 200)
		}
		return outcome{err: &models.WorkerError{Message: msg, Duration: elapsed}}
	default:
		return outcome{result: models.WorkerResult{
			Success:  true,
			Output:   rep.res.Output,
			Metadata: maps.Clone(rep.res.Metadata),
			Duration: elapsed,
		}}
	}
}
