// Package job tracks enrichment job lifecycle and progress for polling
// clients. Jobs live in process memory and are swept after a retention TTL
// whether or not they ever reached a terminal state.
package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recordgen/internal/model"
)

// DefaultTTL is how long a job is retained after creation.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when a job id is unknown or already swept.
var ErrNotFound = eris.New("job: not found")

// ErrTerminal is returned for transitions attempted on a finished job.
var ErrTerminal = eris.New("job: already terminal")

type entry struct {
	job    model.EnrichmentJob
	cancel context.CancelFunc
}

// Manager owns all job state. Progress counters are mutated only through its
// methods, so the monotonicity guarantees hold no matter who calls.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*entry
	ttl  time.Duration

	// now is injectable for sweep tests.
	now func() time.Time
}

// NewManager creates a Manager with the given retention TTL.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		jobs: make(map[string]*entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Create registers a new pending job and returns its projection.
func (m *Manager) Create(totalRecords int) model.EnrichmentJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	j := model.EnrichmentJob{
		ID:           uuid.NewString(),
		Status:       model.JobStatusPending,
		Stage:        model.StageKnowledgeExtraction,
		TotalRecords: totalRecords,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.jobs[j.ID] = &entry{job: j}
	return j
}

// Get returns a copy of the job's current state.
func (m *Manager) Get(id string) (model.EnrichmentJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return model.EnrichmentJob{}, ErrNotFound
	}
	return e.job, nil
}

// List returns copies of all retained jobs, newest first.
func (m *Manager) List() []model.EnrichmentJob {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.EnrichmentJob, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// RegisterCancel attaches the context cancel func for a running job so Cancel
// can interrupt in-flight gateway calls.
func (m *Manager) RegisterCancel(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.jobs[id]; ok {
		e.cancel = cancel
	}
}

// SetProcessing moves a pending job into processing at the given stage.
func (m *Manager) SetProcessing(id string, stage model.JobStage) error {
	return m.update(id, func(j *model.EnrichmentJob) {
		j.Status = model.JobStatusProcessing
		j.Stage = stage
	})
}

// SetStage advances the stage of a processing job.
func (m *Manager) SetStage(id string, stage model.JobStage) error {
	return m.update(id, func(j *model.EnrichmentJob) {
		j.Stage = stage
	})
}

// RecordCompleted increments the completed counter, capped at total.
func (m *Manager) RecordCompleted(id string) error {
	return m.update(id, func(j *model.EnrichmentJob) {
		if j.CompletedRecords+j.FailedRecords < j.TotalRecords {
			j.CompletedRecords++
		}
	})
}

// RecordFailed increments the failed counter, capped at total.
func (m *Manager) RecordFailed(id string) error {
	return m.update(id, func(j *model.EnrichmentJob) {
		if j.CompletedRecords+j.FailedRecords < j.TotalRecords {
			j.FailedRecords++
		}
	})
}

// AddUsage accumulates token counts and estimated spend.
func (m *Manager) AddUsage(id string, inputTokens, outputTokens int64, costUSD float64) error {
	return m.update(id, func(j *model.EnrichmentJob) {
		j.InputTokens += inputTokens
		j.OutputTokens += outputTokens
		j.EstimatedCostUSD += costUSD
	})
}

// Complete marks the job completed.
func (m *Manager) Complete(id string) error {
	return m.update(id, func(j *model.EnrichmentJob) {
		j.Status = model.JobStatusCompleted
		j.Stage = model.StageCompleted
	})
}

// Fail marks the job failed with a human-readable message.
func (m *Manager) Fail(id, message string) error {
	return m.update(id, func(j *model.EnrichmentJob) {
		j.Status = model.JobStatusFailed
		j.Stage = model.StageFailed
		j.ErrorMessage = message
	})
}

// Cancel marks a non-terminal job cancelled and interrupts its in-flight
// work. Cancelling a terminal job is an error; cancelling twice is not.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if e.job.Status == model.JobStatusCancelled {
		return nil
	}
	if e.job.Status.Terminal() {
		return ErrTerminal
	}

	e.job.Status = model.JobStatusCancelled
	e.job.UpdatedAt = m.now()
	if e.cancel != nil {
		e.cancel()
	}
	zap.L().Info("job cancelled", zap.String("job_id", id))
	return nil
}

// IsCancelled reports whether the job was cancelled. Unknown jobs count as
// cancelled so orphaned workers stop promptly.
func (m *Manager) IsCancelled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return true
	}
	return e.job.Status == model.JobStatusCancelled
}

// update applies fn to a non-terminal job under the lock.
func (m *Manager) update(id string, fn func(*model.EnrichmentJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if e.job.Status.Terminal() {
		return ErrTerminal
	}
	fn(&e.job)
	e.job.UpdatedAt = m.now()
	return nil
}

// Sweep purges jobs older than the TTL regardless of status. Returns how many
// were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	removed := 0
	for id, e := range m.jobs {
		if e.job.CreatedAt.Before(cutoff) {
			if e.cancel != nil {
				e.cancel()
			}
			delete(m.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		zap.L().Info("swept expired jobs", zap.Int("removed", removed))
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}
