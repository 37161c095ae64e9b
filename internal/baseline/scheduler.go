package baseline

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler periodically samples the local host and evaluates it against
// its own baseline, publishing each assessment to the cache the behavior
// detector reads. It only evaluates; superseding a baseline stays an
// explicit operation.
type Scheduler struct {
	learner  *Learner
	sampler  Sampler
	cache    *AssessmentCache
	agentID  string
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler creates a self-evaluation scheduler for the given agent.
func NewScheduler(learner *Learner, sampler Sampler, cache *AssessmentCache, agentID string, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		learner:  learner,
		sampler:  sampler,
		cache:    cache,
		agentID:  agentID,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the evaluation loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("baseline scheduler started",
			"agent_id", s.agentID,
			"interval", s.interval,
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.evaluate(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) evaluate(ctx context.Context) {
	observed, err := s.sampler.Sample(ctx)
	if err != nil {
		s.logger.Warn("self-evaluation sample failed", "agent_id", s.agentID, "error", err)
		return
	}

	assessment, err := s.learner.Evaluate(ctx, s.agentID, observed)
	if err != nil {
		if errors.Is(err, ErrNoBaseline) {
			// Nothing to compare against until an operator establishes one.
			s.logger.Debug("self-evaluation skipped", "agent_id", s.agentID)
			return
		}
		s.logger.Warn("self-evaluation failed", "agent_id", s.agentID, "error", err)
		return
	}

	if s.cache != nil {
		s.cache.Put(assessment)
	}
	if assessment.Anomalous() {
		s.logger.Warn("self-evaluation anomalous",
			"agent_id", s.agentID,
			"anomalies", assessment.AnomalyTypes(),
		)
	}
}
