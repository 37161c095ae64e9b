package baseline

import (
	"sync"
	"time"
)

// AssessmentCache keeps the most recent assessment per agent so the
// detection pipeline can fold behavioral context into verdicts without
// re-sampling on every log entry.
type AssessmentCache struct {
	mu     sync.RWMutex
	latest map[string]*Assessment
	maxAge time.Duration
	now    func() time.Time
}

// NewAssessmentCache creates a cache. Assessments older than maxAge are
// treated as absent.
func NewAssessmentCache(maxAge time.Duration) *AssessmentCache {
	return &AssessmentCache{
		latest: make(map[string]*Assessment),
		maxAge: maxAge,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Put records the agent's newest assessment.
func (c *AssessmentCache) Put(a *Assessment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[a.AgentID] = a
}

// Latest returns the agent's most recent assessment, or nil when none
// exists or the cached one is too old to be trusted.
func (c *AssessmentCache) Latest(agentID string) *Assessment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.latest[agentID]
	if !ok {
		return nil
	}
	if c.maxAge > 0 && c.now().Sub(a.EvaluatedAt) > c.maxAge {
		return nil
	}
	return a
}
