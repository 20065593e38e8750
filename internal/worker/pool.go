package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"docqueue/internal/domain"
	"docqueue/internal/queue"
)

type Handler interface {
	Handle(ctx context.Context, d domain.Delivery) error
}

type HandlerFunc func(ctx context.Context, d domain.Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d domain.Delivery) error { return f(ctx, d) }

// Leaser is the part of *queue.Queue the pool drives.
type Leaser interface {
	Name() string
	Lease(ctx context.Context, opts ...queue.CallOption) (domain.Delivery, bool, error)
	Renew(ctx context.Context, ack string, opts ...queue.CallOption) (string, error)
	Ack(ctx context.Context, ack string) (string, error)
}

// Pool leases messages on every tick until the queue runs dry and hands each
// one to the handler on its own goroutine. Leases are renewed while the
// handler runs. A failed message is not acked, so it comes back once its
// lease expires.
type Pool struct {
	q          Leaser
	handler    Handler
	sem        chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	pollEvery  time.Duration
	visibility time.Duration
}

func NewPool(q Leaser, handler Handler, size int, pollEvery, visibility time.Duration) *Pool {
	return &Pool{
		q:          q,
		handler:    handler,
		sem:        make(chan struct{}, size),
		stop:       make(chan struct{}),
		pollEvery:  pollEvery,
		visibility: visibility,
	}
}

// Run blocks until ctx is done or Stop is called, then waits for in-flight handlers.
func (p *Pool) Run(ctx context.Context) {
	t := time.NewTicker(p.pollEvery)
	defer t.Stop()
	defer p.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-t.C:
			p.drain(ctx)
		}
	}
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Pool) drain(ctx context.Context) {
	for {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		}
		d, ok, err := p.q.Lease(ctx, queue.WithVisibility(p.visibility))
		if err != nil {
			<-p.sem
			log.Error().Err(err).Str("queue", p.q.Name()).Msg("lease failed")
			return
		}
		if !ok {
			<-p.sem
			return
		}
		p.wg.Add(1)
		go func(d domain.Delivery) {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.process(ctx, d)
		}(d)
	}
}

func (p *Pool) process(ctx context.Context, d domain.Delivery) {
	c, cancel := context.WithCancel(ctx)
	defer cancel()

	beat := make(chan struct{})
	go func() {
		defer close(beat)
		p.heartbeat(c, cancel, d)
	}()

	err := p.handler.Handle(c, d)
	cancel()
	<-beat

	logger := log.With().Str("queue", p.q.Name()).Str("id", d.ID).Int("tries", d.Tries).Logger()
	if err != nil {
		logger.Error().Err(err).Msg("handler failed; lease left to expire")
		return
	}
	if _, err := p.q.Ack(ctx, d.Ack); err != nil {
		logger.Error().Err(err).Msg("ack failed")
		return
	}
	logger.Debug().Msg("acked")
}

// heartbeat renews the lease at half the visibility window. Losing the lease
// cancels the handler's context.
func (p *Pool) heartbeat(ctx context.Context, cancel context.CancelFunc, d domain.Delivery) {
	t := time.NewTicker(p.visibility / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, err := p.q.Renew(ctx, d.Ack, queue.WithVisibility(p.visibility))
			if errors.Is(err, queue.ErrUnknownLease) {
				log.Warn().Str("queue", p.q.Name()).Str("id", d.ID).Msg("lease lost; cancelling handler")
				cancel()
				return
			}
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("queue", p.q.Name()).Str("id", d.ID).Msg("renew failed")
			}
		}
	}
}
