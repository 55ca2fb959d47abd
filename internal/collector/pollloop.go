package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/i474232898/netatmo-collector/internal/netatmo"
)

// StationSource supplies station snapshots.
type StationSource interface {
	Fetch(ctx context.Context, deviceID string) (*netatmo.StationData, error)
}

// MeasureSource supplies fine-grained rain series.
type MeasureSource interface {
	Fetch(ctx context.Context, deviceID, moduleID string) (netatmo.Series, error)
}

// PollConfig controls cycle timing and retries.
type PollConfig struct {
	Interval  time.Duration
	MaxTries  int
	RetryWait time.Duration
	DeviceID  string
}

// PollLoop runs poll cycles and publishes their records. A single worker
// drives it through Wake.
type PollLoop struct {
	cfg        PollConfig
	stations   StationSource
	measures   MeasureSource
	reconciler *netatmo.Reconciler
	queue      *Queue
	logger     *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	lastPoll time.Time
}

// NewPollLoop wires a poll loop.
func NewPollLoop(cfg PollConfig, stations StationSource, measures MeasureSource, reconciler *netatmo.Reconciler, queue *Queue, logger *zap.Logger) *PollLoop {
	if cfg.MaxTries <= 0 {
		cfg.MaxTries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollLoop{
		cfg:        cfg,
		stations:   stations,
		measures:   measures,
		reconciler: reconciler,
		queue:      queue,
		logger:     logger.Named("poll"),
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// Wake polls when more than the configured interval has passed since the
// last poll. It reports whether a poll was attempted.
func (p *PollLoop) Wake(ctx context.Context) bool {
	now := p.now()
	if !p.lastPoll.IsZero() && now.Sub(p.lastPoll) <= p.cfg.Interval {
		return false
	}

	if err := p.Poll(ctx); err != nil {
		p.logger.Error("poll failed", zap.Error(err))
	}
	p.lastPoll = now
	p.logger.Debug("next update", zap.Duration("in", p.cfg.Interval))
	return true
}

// Poll runs one cycle with up to MaxTries attempts. Reconciler state is
// rolled back after a failed attempt so each attempt starts from the same
// state.
func (p *PollLoop) Poll(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxTries; attempt++ {
		snap := p.reconciler.Snapshot()

		err := p.safeCycle(ctx)
		if err == nil {
			return nil
		}
		p.reconciler.Restore(snap)
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !netatmo.Retryable(err) {
			return fmt.Errorf("giving up without retry: %w", err)
		}

		p.logger.Error("failed attempt to get data",
			zap.Int("attempt", attempt),
			zap.Int("max_tries", p.cfg.MaxTries),
			zap.Error(err))
		if attempt == p.cfg.MaxTries {
			break
		}

		p.logger.Debug("waiting before retry", zap.Duration("retry_wait", p.cfg.RetryWait))
		if err := p.sleep(ctx, p.cfg.RetryWait); err != nil {
			return err
		}
	}
	return fmt.Errorf("failed to get data after %d attempts: %w", p.cfg.MaxTries, lastErr)
}

func (p *PollLoop) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in poll cycle: %v", r)
			p.logger.Error("recovered panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	return p.Cycle(ctx)
}

// Cycle fetches, reconciles and publishes a single record.
func (p *PollLoop) Cycle(ctx context.Context) error {
	data, err := p.stations.Fetch(ctx, p.cfg.DeviceID)
	if err != nil {
		return err
	}
	p.logger.Debug("cloud units", zap.Any("units", data.Units()))

	record, candidates := p.reconciler.Flatten(data)
	for _, c := range candidates {
		p.reconciler.TrackCandidate(c.StationID, c)
		p.reconciler.Deduplicate(c.StationID, c, record)
	}

	for _, station := range p.reconciler.Stations() {
		st, _ := p.reconciler.State(station)
		series, err := p.measures.Fetch(ctx, station, st.ModuleID)
		if err != nil {
			return fmt.Errorf("rain measurements for %s: %w", station, err)
		}
		p.reconciler.Correct(station, series, record)
	}

	rec := Record{
		ID:   uuid.New(),
		Time: p.now().UTC(),
		Data: record,
	}
	if err := p.queue.Put(ctx, rec); err != nil {
		return err
	}
	p.logger.Debug("published record", zap.Stringer("id", rec.ID), zap.Int("fields", len(record)))
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
