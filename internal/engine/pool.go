package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opsignal/responder/internal/metrics"
	"github.com/opsignal/responder/internal/models"
)

// Pool runs the registered engines concurrently against an incident's
// accumulated signals. Engines fail independently; a timeout or unavailable
// engine contributes no verdict but never blocks the others.
type Pool struct {
	logger        *slog.Logger
	engines       []Engine
	poolDeadline  time.Duration
	engineTimeout time.Duration
}

// NewPool constructs a Pool over the given engines.
func NewPool(logger *slog.Logger, engines []Engine, poolDeadline, engineTimeout time.Duration) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if poolDeadline <= 0 {
		poolDeadline = 10 * time.Second
	}
	if engineTimeout <= 0 || engineTimeout > poolDeadline {
		engineTimeout = poolDeadline
	}
	return &Pool{
		logger:        logger,
		engines:       engines,
		poolDeadline:  poolDeadline,
		engineTimeout: engineTimeout,
	}
}

// Size returns the number of registered engines.
func (p *Pool) Size() int {
	return len(p.engines)
}

// Run fans out to every engine and collects the verdicts that completed
// within the deadline. A run where zero engines produced a verdict returns
// models.ErrAnalysisExhausted; the caller decides on retry policy.
func (p *Pool) Run(ctx context.Context, incident *models.Incident, signals []*models.Signal) ([]PartialVerdict, error) {
	if len(p.engines) == 0 {
		return nil, fmt.Errorf("no engines registered: %w", models.ErrAnalysisExhausted)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.poolDeadline)
	defer cancel()

	var mu sync.Mutex
	verdicts := make([]PartialVerdict, 0, len(p.engines))

	g, gctx := errgroup.WithContext(runCtx)
	for _, eng := range p.engines {
		eng := eng
		g.Go(func() error {
			verdict, err := p.runOne(gctx, eng, incident, signals)
			if err != nil {
				// Engine failures are excluded from fusion, never surfaced.
				p.logger.Debug("engine excluded from fusion",
					slog.String("engine", string(eng.Kind())),
					slog.String("incident_id", incident.ID),
					slog.Any("error", err))
				return nil
			}
			mu.Lock()
			verdicts = append(verdicts, verdict)
			mu.Unlock()
			return nil
		})
	}
	// Workers swallow engine errors, so Wait only reflects pool cancellation.
	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	if len(verdicts) == 0 {
		return nil, fmt.Errorf("incident %s: %w", incident.ID, models.ErrAnalysisExhausted)
	}
	return verdicts, nil
}

// runOne executes a single engine under its own timeout. Out-of-range
// confidences are clamped rather than rejected; an engine bug must not sink
// the whole run.
func (p *Pool) runOne(ctx context.Context, eng Engine, incident *models.Incident, signals []*models.Signal) (PartialVerdict, error) {
	engCtx, cancel := context.WithTimeout(ctx, p.engineTimeout)
	defer cancel()

	type outcome struct {
		verdict PartialVerdict
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := eng.Analyze(engCtx, incident, signals)
		done <- outcome{verdict: v, err: err}
	}()

	select {
	case <-engCtx.Done():
		metrics.ObserveEngineRun(string(eng.Kind()), "timeout")
		return PartialVerdict{}, fmt.Errorf("engine %s: %w", eng.Kind(), models.ErrEngineTimeout)
	case out := <-done:
		if out.err != nil {
			label := "error"
			if errors.Is(out.err, models.ErrEngineUnavailable) {
				label = "unavailable"
			}
			metrics.ObserveEngineRun(string(eng.Kind()), label)
			return PartialVerdict{}, out.err
		}
		metrics.ObserveEngineRun(string(eng.Kind()), metrics.OutcomeSuccess)
		out.verdict.Engine = eng.Kind()
		out.verdict.Confidence = clamp01(out.verdict.Confidence)
		return out.verdict, nil
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
