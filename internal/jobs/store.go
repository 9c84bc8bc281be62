// Package jobs tracks asynchronous runs by ID: created on submit, updated on
// progress, finished or failed once, and removed on TTL expiry or explicit
// deletion. Subscribers receive lifecycle events for push to clients.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"strategylab/internal/util"
)

// ErrNotFound is returned for an unknown job ID.
var ErrNotFound = errors.New("job not found")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Done reports whether s is terminal.
func (s Status) Done() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// Job is a snapshot of one tracked run.
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Status     Status    `json:"status"`
	Progress   float64   `json:"progress"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Result     any       `json:"result,omitempty"`
}

// Event is the wire format for pushed job updates.
type Event struct {
	Type string `json:"type"` // "created", "progress", "finished", "deleted"
	Job  Job    `json:"job"`
}

type entry struct {
	job    Job
	cancel context.CancelFunc
}

// Store holds jobs in memory with pub/sub.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*entry
	ttl  time.Duration
	now  func() time.Time
	log  *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]subscriber
}

type subscriber struct {
	ch  chan Event
	job string // empty for every job
}

// NewStore creates a Store whose finished jobs expire after ttl. A zero ttl
// keeps finished jobs until deleted.
func NewStore(ttl time.Duration, log *slog.Logger) *Store {
	if log == nil {
		log = util.Discard()
	}
	return &Store{
		jobs: make(map[string]*entry),
		ttl:  ttl,
		now:  time.Now,
		log:  log,
		subs: make(map[int]subscriber),
	}
}

// Create registers a pending job of kind and returns its ID. cancel, if not
// nil, is invoked when the job is deleted before finishing.
func (s *Store) Create(kind string, cancel context.CancelFunc) string {
	now := s.now()
	e := &entry{
		job: Job{
			ID:        uuid.NewString(),
			Kind:      kind,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
	}

	s.mu.Lock()
	s.jobs[e.job.ID] = e
	snap := e.job
	s.mu.Unlock()

	s.log.Info("job created", "id", snap.ID, "kind", kind)
	s.broadcast(Event{Type: "created", Job: snap})
	return snap.ID
}

// Update marks the job running and records progress in [0, 1] with an
// optional message. Updates to finished jobs are ignored.
func (s *Store) Update(id string, progress float64, message string) error {
	snap, err := s.mutate(id, func(j *Job) bool {
		if j.Status.Done() {
			return false
		}
		j.Status = StatusRunning
		j.Progress = min(max(progress, 0), 1)
		if message != "" {
			j.Message = message
		}
		return true
	})
	if err != nil || snap == nil {
		return err
	}
	s.broadcast(Event{Type: "progress", Job: *snap})
	return nil
}

// Finish marks the job successful with result.
func (s *Store) Finish(id string, result any) error {
	return s.finish(id, StatusSuccess, result, "")
}

// Fail marks the job failed. A context cancellation is recorded as cancelled.
func (s *Store) Fail(id string, cause error) error {
	status := StatusError
	if errors.Is(cause, context.Canceled) {
		status = StatusCancelled
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(id, status, nil, msg)
}

func (s *Store) finish(id string, status Status, result any, msg string) error {
	snap, err := s.mutate(id, func(j *Job) bool {
		if j.Status.Done() {
			return false
		}
		now := s.now()
		j.Status = status
		j.Result = result
		j.Error = msg
		j.FinishedAt = now
		if status == StatusSuccess {
			j.Progress = 1
		}
		return true
	})
	if err != nil || snap == nil {
		return err
	}
	s.log.Info("job finished", "id", id, "status", status, "error", msg)
	s.broadcast(Event{Type: "finished", Job: *snap})
	return nil
}

// mutate applies fn under the write lock. It returns a snapshot when fn
// reports a change, nil when it did not.
func (s *Store) mutate(id string, fn func(*Job) bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if !fn(&e.job) {
		return nil, nil
	}
	e.job.UpdatedAt = s.now()
	snap := e.job
	return &snap, nil
}

// Get returns a snapshot of the job.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return e.job, nil
}

// List returns snapshots of all jobs, newest first, without results.
func (s *Store) List() []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		j := e.job
		j.Result = nil
		out = append(out, j)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Delete removes a job, cancelling it first if it is still running.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if !e.job.Status.Done() && e.cancel != nil {
		e.cancel()
	}
	s.broadcast(Event{Type: "deleted", Job: e.job})
	return nil
}

// Sweep removes finished jobs older than the TTL and returns how many were
// removed.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	var expired []Job
	s.mu.Lock()
	for id, e := range s.jobs {
		if e.job.Status.Done() && e.job.FinishedAt.Before(cutoff) {
			expired = append(expired, e.job)
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	for _, j := range expired {
		s.broadcast(Event{Type: "deleted", Job: j})
	}
	if len(expired) > 0 {
		s.log.Debug("jobs expired", "count", len(expired))
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

// ---------------------------------------------------------------------------
// Pub/sub
// ---------------------------------------------------------------------------

// Subscribe returns a channel that receives every job's events. bufSize
// controls the channel buffer; a full buffer drops progress events.
func (s *Store) Subscribe(bufSize int) (int, <-chan Event) {
	return s.subscribe("", bufSize)
}

// SubscribeJob is Subscribe restricted to the events of one job.
func (s *Store) SubscribeJob(jobID string, bufSize int) (int, <-chan Event) {
	return s.subscribe(jobID, bufSize)
}

func (s *Store) subscribe(jobID string, bufSize int) (int, <-chan Event) {
	ch := make(chan Event, max(bufSize, 1))
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = subscriber{ch: ch, job: jobID}
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	if sub, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(sub.ch)
	}
	s.subsMu.Unlock()
}

// broadcast sends an event to matching subscribers without blocking. A full
// buffer drops the event, except that terminal events evict the oldest
// buffered one so a subscriber always learns that a job ended.
func (s *Store) broadcast(e Event) {
	terminal := e.Type == "deleted" || e.Job.Status.Done()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		if sub.job != "" && sub.job != e.Job.ID {
			continue
		}
		select {
		case sub.ch <- e:
			continue
		default:
		}
		if !terminal {
			continue
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}
