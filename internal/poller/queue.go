package poller

import (
	"context"
	"fmt"
)

// queue serializes cycles. A caller arriving while a cycle runs waits for
// it to finish and then runs the next one; callers arriving while that next
// cycle is still pending join it instead of adding another.
type queue struct {
	slot    chan struct{}
	pending chan *pendingRun
}

type pendingRun struct {
	done   chan struct{}
	result Result
}

func newQueue() *queue {
	q := &queue{slot: make(chan struct{}, 1), pending: make(chan *pendingRun, 1)}
	q.pending <- nil

	return q
}

func (q *queue) run(ctx context.Context, cycle func(context.Context) Result) (Result, error) {
	p := <-q.pending
	if p != nil {
		q.pending <- p

		return q.wait(ctx, p)
	}

	p = &pendingRun{done: make(chan struct{})}
	q.pending <- p

	go func() {
		q.slot <- struct{}{}

		// Later callers start a new pending run.
		<-q.pending
		q.pending <- nil

		p.result = cycle(context.WithoutCancel(ctx))
		close(p.done)

		<-q.slot
	}()

	return q.wait(ctx, p)
}

func (q *queue) wait(ctx context.Context, p *pendingRun) (Result, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("wait for poll cycle: %w", ctx.Err())
	}
}
