package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/persona-memory/internal/metrics"
	"github.com/rcliao/persona-memory/internal/model"
	"github.com/rcliao/persona-memory/internal/store"
)

// RunReport summarises one consolidation run over one persona.
type RunReport struct {
	RunID     string        `json:"run_id"`
	PersonaID string        `json:"persona_id"`
	Scanned   int           `json:"scanned"`
	Rescored  int           `json:"rescored"`
	Migrated  int           `json:"migrated"`
	Evicted   int           `json:"evicted"`
	Failed    int           `json:"failed"`
	Skipped   bool          `json:"skipped,omitempty"`
	Duration  time.Duration `json:"duration"`
	Errors    []error       `json:"-"`
}

// Scheduler consolidates persona memories in the background: it rescores
// importance, promotes fragments up the tier hierarchy and evicts
// long-term fragments over quota.
type Scheduler struct {
	store    store.Store
	opts     Options
	log      zerolog.Logger
	metrics  *metrics.Metrics
	schedule cron.Schedule
	locks    *personaLocks

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScheduler builds a scheduler. The loop does not run until Start.
func NewScheduler(st store.Store, opts Options, log zerolog.Logger, m *metrics.Metrics) (*Scheduler, error) {
	opts = opts.withDefaults()
	sched := opts.Schedule
	if sched == nil {
		if opts.ConsolidationSchedule != "" {
			parsed, err := cron.ParseStandard(opts.ConsolidationSchedule)
			if err != nil {
				return nil, fmt.Errorf("parse consolidation schedule %q: %w", opts.ConsolidationSchedule, err)
			}
			sched = parsed
		} else {
			sched = cron.Every(opts.ConsolidationInterval)
		}
	}
	return &Scheduler{
		store:    st,
		opts:     opts,
		log:      log,
		metrics:  m,
		schedule: sched,
		locks:    newPersonaLocks(),
	}, nil
}

// Start launches the consolidation loop. It runs until ctx is cancelled
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx, s.done)
	s.log.Info().Msg("consolidation scheduler started")
	return nil
}

// Stop cancels the loop and any run in flight, and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info().Msg("consolidation scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		reports, err := s.RunAll(ctx)
		if err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("consolidation pass finished with errors")
		}
		s.log.Debug().Int("personas", len(reports)).Msg("consolidation pass complete")
	}
}

// RunAll consolidates every persona, at most ConsolidationConcurrency at a
// time. Personas already being consolidated are reported as skipped.
func (s *Scheduler) RunAll(ctx context.Context) ([]RunReport, error) {
	personas, err := s.store.ListPersonas(ctx)
	if err != nil {
		return nil, fmt.Errorf("consolidate: %w", err)
	}

	reports := make([]RunReport, len(personas))
	errs := make([]error, len(personas))

	var g errgroup.Group
	g.SetLimit(s.opts.ConsolidationConcurrency)
	for i, p := range personas {
		g.Go(func() error {
			report, err := s.RunPersona(ctx, p.ID)
			if report != nil {
				reports[i] = *report
			}
			if err != nil && !errors.Is(err, model.ErrRunInProgress) {
				errs[i] = fmt.Errorf("persona %s: %w", p.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

// RunPersona performs one consolidation run for a persona. If another run
// for the same persona is in progress it returns ErrRunInProgress with a
// skipped report. Per-fragment failures are collected in the report and do
// not fail the run.
func (s *Scheduler) RunPersona(ctx context.Context, personaID string) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString(), PersonaID: personaID}
	start := time.Now()

	lock := s.locks.get(personaID)
	if !lock.TryLock() {
		report.Skipped = true
		s.metrics.RecordConsolidation("skipped", 0)
		return report, fmt.Errorf("consolidate %s: %w", personaID, model.ErrRunInProgress)
	}
	defer lock.Unlock()

	ctx, span := tracer.Start(ctx, "memory.Consolidate")
	defer span.End()
	span.SetAttributes(attribute.String("persona_id", personaID), attribute.String("run_id", report.RunID))

	log := s.log.With().Str("persona_id", personaID).Str("run_id", report.RunID).Logger()

	err := s.run(ctx, personaID, report, log)
	report.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("scanned", report.Scanned),
		attribute.Int("migrated", report.Migrated),
		attribute.Int("evicted", report.Evicted),
		attribute.Int("failed", report.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordConsolidation("failed", report.Duration)
		log.Error().Err(err).Msg("consolidation run aborted")
		return report, fmt.Errorf("consolidate %s: %w", personaID, err)
	}

	s.metrics.RecordConsolidation("ok", report.Duration)
	log.Info().
		Int("scanned", report.Scanned).
		Int("rescored", report.Rescored).
		Int("migrated", report.Migrated).
		Int("evicted", report.Evicted).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("consolidation run complete")
	return report, nil
}

func (s *Scheduler) run(ctx context.Context, personaID string, report *RunReport, log zerolog.Logger) error {
	fragments, err := s.store.List(ctx, personaID)
	if err != nil {
		return err
	}

	now := s.opts.Now()
	for _, f := range fragments {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Scanned++

		var rescored bool
		var from, to model.Tier
		_, changed, err := updateFragment(ctx, s.store, f.ID, s.opts.CASAttempts, s.metrics, func(cur *model.Fragment) bool {
			rescored = false
			from, to = cur.Tier, cur.Tier

			imp, emo := s.opts.Policy.Recompute(cur, now)
			imp = clamp(imp, model.MinImportance, model.MaxImportance)
			emo = clamp(emo, model.MinEmotion, model.MaxEmotion)
			if !sameScore(imp, cur.Importance) || !sameScore(emo, cur.EmotionalImpact) {
				cur.Importance, cur.EmotionalImpact = imp, emo
				rescored = true
			}
			to = s.nextTier(cur, now)
			cur.Tier = to
			return rescored || to != from
		})
		switch {
		case err == nil:
		case errors.Is(err, model.ErrNotFound):
			// deleted mid-run
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			fe := &model.ConsolidationFragmentError{PersonaID: personaID, FragmentID: f.ID, Err: err}
			report.Failed++
			report.Errors = append(report.Errors, fe)
			s.metrics.RecordFragmentError()
			log.Warn().Err(err).Str("fragment_id", f.ID).Msg("fragment consolidation failed")
			continue
		}
		if !changed {
			continue
		}
		if rescored {
			report.Rescored++
		}
		if to != from {
			report.Migrated++
			s.metrics.RecordMigration(from.String(), to.String())
		}
	}

	return s.evict(ctx, personaID, now, report, log)
}

// nextTier returns the tier f should occupy after this run. A fragment
// moves at most one step per run.
func (s *Scheduler) nextTier(f *model.Fragment, now time.Time) model.Tier {
	age := now.Sub(f.Timestamp)
	switch f.Tier {
	case model.TierWorking:
		if age > s.opts.WorkingWindow {
			return model.TierShortTerm
		}
	case model.TierShortTerm:
		if age > s.opts.ShortTermWindow {
			return model.TierLongTerm
		}
		if s.opts.EarlyPromotion && f.Importance >= s.opts.ImportanceThreshold {
			return model.TierLongTerm
		}
	}
	return f.Tier
}

// evict deletes the lowest retention-scored LONG_TERM fragments until the
// persona is back within MaxLongTerm.
func (s *Scheduler) evict(ctx context.Context, personaID string, now time.Time, report *RunReport, log zerolog.Logger) error {
	long, err := s.store.List(ctx, personaID, model.TierLongTerm)
	if err != nil {
		return err
	}
	excess := len(long) - s.opts.MaxLongTerm
	if excess <= 0 {
		return nil
	}

	sort.SliceStable(long, func(i, j int) bool {
		ri, rj := retention(&long[i], now), retention(&long[j], now)
		if ri != rj {
			return ri < rj
		}
		if !long[i].Timestamp.Equal(long[j].Timestamp) {
			return long[i].Timestamp.Before(long[j].Timestamp)
		}
		return long[i].ID < long[j].ID
	})

	for _, f := range long[:excess] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.store.Delete(ctx, f.ID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			report.Failed++
			report.Errors = append(report.Errors, &model.ConsolidationFragmentError{PersonaID: personaID, FragmentID: f.ID, Err: err})
			s.metrics.RecordFragmentError()
			log.Warn().Err(err).Str("fragment_id", f.ID).Msg("eviction failed")
			continue
		}
		report.Evicted++
		s.metrics.RecordEviction()
		log.Debug().Str("fragment_id", f.ID).Float64("importance", f.Importance).Msg("fragment evicted")
	}
	return nil
}

func retention(f *model.Fragment, now time.Time) float64 {
	return f.Importance * TimeRelevance(f.Timestamp, now)
}

func sameScore(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
