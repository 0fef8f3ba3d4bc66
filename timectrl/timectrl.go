// Package timectrl paces a simulation against the wall clock.
package timectrl

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/rumor-routing-sim/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Simulation is what a Pacer drives. *core.Field implements it.
type Simulation interface {
	Start() error
	Tick(ctx context.Context) bool
	CurrentTime() int
}

// Pacer calls Tick at a bounded rate until the simulation ends. The rate is
// fixed at construction.
type Pacer struct {
	rate float64

	mu        sync.RWMutex
	listeners []func(tick int)

	ticks int
	err   error

	log    logging.Logger
	tracer trace.Tracer
}

// NewPacer constructs a pacer running rate ticks per second; zero or less
// runs unthrottled.
func NewPacer(rate float64, log logging.Logger) *Pacer {
	return &Pacer{
		rate:   rate,
		log:    logging.OrNoop(log),
		tracer: otel.Tracer("github.com/signalsfoundry/rumor-routing-sim/timectrl"),
	}
}

// AddListener registers a callback invoked with the tick number after every
// tick that ran.
func (p *Pacer) AddListener(fn func(tick int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Ticks returns how many ticks have run so far.
func (p *Pacer) Ticks() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ticks
}

// Err returns the result of the last Run.
func (p *Pacer) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Rate is the configured ticks per second.
func (p *Pacer) Rate() float64 { return p.rate }

// Interval is the wall-clock time between ticks, zero when unthrottled.
func (p *Pacer) Interval() time.Duration {
	if p.rate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / p.rate)
}

// Run starts sim and ticks it until it ends or ctx is done. It returns nil
// when the simulation ended on its own.
func (p *Pacer) Run(ctx context.Context, sim Simulation) error {
	ctx, span := p.tracer.Start(ctx, "pacer.run", trace.WithAttributes(attribute.Float64("pacer.rate", p.rate)))
	defer span.End()

	err := p.run(ctx, sim)
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()

	span.SetAttributes(attribute.Int("pacer.ticks", p.Ticks()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pacer) run(ctx context.Context, sim Simulation) error {
	if err := sim.Start(); err != nil {
		return err
	}
	p.log.Info(ctx, "simulation started", logging.Any("rate", p.rate))

	var tick <-chan time.Time
	if interval := p.Interval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			p.log.Warn(ctx, "simulation interrupted", logging.Int("tick", sim.CurrentTime()), logging.Err(ctx.Err()))
			return ctx.Err()
		default:
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				p.log.Warn(ctx, "simulation interrupted", logging.Int("tick", sim.CurrentTime()), logging.Err(ctx.Err()))
				return ctx.Err()
			case <-tick:
			}
		}

		now := sim.CurrentTime()
		if !sim.Tick(ctx) {
			p.log.Info(ctx, "simulation finished", logging.Int("ticks", p.Ticks()))
			return nil
		}

		p.mu.Lock()
		p.ticks++
		listeners := append([]func(int){}, p.listeners...)
		p.mu.Unlock()
		for _, fn := range listeners {
			fn(now)
		}
	}
}

// Start runs the pacer in a separate goroutine. The returned channel is
// closed when it finishes; Err reports the outcome.
func (p *Pacer) Start(ctx context.Context, sim Simulation) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx, sim)
	}()
	return done
}
