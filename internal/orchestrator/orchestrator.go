// File: internal/orchestrator/orchestrator.go
// Description: Runs batches of profile sessions under a concurrency cap and
// tracks each session's lifecycle. The browser side is injected through the
// SessionManager interface so the orchestrator stays testable.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/config"
	"github.com/xkilldash9x/cdpfleet/internal/observability"
)

// ErrBatchRunning is logged when a batch is requested while one is in flight.
var ErrBatchRunning = errors.New("batch execution already running")

// Status is the lifecycle state of one session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// SessionResult is the outcome record of one profile in a batch.
type SessionResult struct {
	ProfileID string     `json:"profile_id"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Duration is the elapsed session time; ok is false until the session ended.
func (r SessionResult) Duration() (d time.Duration, ok bool) {
	if r.EndTime == nil || r.StartTime.IsZero() {
		return 0, false
	}
	return r.EndTime.Sub(r.StartTime), true
}

// Statistics counts results by status.
type Statistics struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Stopped   int `json:"stopped"`
}

// SessionManager launches and closes the browser behind a session.
// *browser.Manager satisfies it.
type SessionManager interface {
	Launch(ctx context.Context, profileID string) error
	Close(profileID string) bool
	CloseAll() int
	ActiveCount() int
	IsActive(profileID string) bool
}

// CompletionFunc is called by the batch worker after each launch attempt.
type CompletionFunc func(SessionResult)

// batch is the state of one worker run.
type batch struct {
	id       string
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (b *batch) requestStop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *batch) alive() bool {
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

func now() *time.Time {
	t := time.Now()
	return &t
}

// Orchestrator runs at most one batch at a time.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	sessions SessionManager
	logger   *zap.Logger

	// mu guards the whole results map.
	mu      sync.Mutex
	results map[string]*SessionResult

	batchMu sync.Mutex
	current *batch
}

// New creates an Orchestrator.
func New(cfg config.OrchestratorConfig, sessions SessionManager, logger *zap.Logger) (*Orchestrator, error) {
	if sessions == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent sessions must be positive, got %d", cfg.MaxConcurrent)
	}
	if cfg.SlotPollInterval <= 0 {
		cfg.SlotPollInterval = 500 * time.Millisecond
	}
	if cfg.StopJoinTimeout <= 0 {
		cfg.StopJoinTimeout = 5 * time.Second
	}
	return &Orchestrator{
		cfg:      cfg,
		sessions: sessions,
		logger:   logger.Named("orchestrator"),
		results:  make(map[string]*SessionResult),
	}, nil
}

// MaxConcurrent is the configured session cap.
func (o *Orchestrator) MaxConcurrent() int {
	return o.cfg.MaxConcurrent
}

// CanStartSession reports whether the active session count is below the cap.
func (o *Orchestrator) CanStartSession() bool {
	return o.sessions.ActiveCount() < o.cfg.MaxConcurrent
}

// IsBatchRunning reports whether a batch worker is alive.
func (o *Orchestrator) IsBatchRunning() bool {
	o.batchMu.Lock()
	defer o.batchMu.Unlock()
	return o.current != nil && o.current.alive()
}

// BatchID identifies the most recent batch, or "" before the first one.
func (o *Orchestrator) BatchID() string {
	o.batchMu.Lock()
	defer o.batchMu.Unlock()
	if o.current == nil {
		return ""
	}
	return o.current.id
}

// StartBatch launches profileIDs in order on a background worker, keeping
// at most MaxConcurrent sessions active and waiting delay between launches.
// A negative delay uses the configured LaunchDelay. It returns false and
// changes nothing if a batch is already running.
func (o *Orchestrator) StartBatch(profileIDs []string, delay time.Duration, onComplete CompletionFunc) bool {
	o.batchMu.Lock()
	defer o.batchMu.Unlock()

	if o.current != nil && o.current.alive() {
		o.logger.Warn("Refusing to start batch.", zap.Error(ErrBatchRunning), zap.String("batch_id", o.current.id))
		return false
	}
	if delay < 0 {
		delay = o.cfg.LaunchDelay
	}

	o.mu.Lock()
	o.results = make(map[string]*SessionResult)
	o.mu.Unlock()

	b := &batch{
		id:   uuid.NewString(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	o.current = b

	ids := append([]string(nil), profileIDs...)
	o.logger.Info("Batch started.",
		zap.String("batch_id", b.id),
		zap.Int("profiles", len(ids)),
		zap.Duration("delay", delay),
		zap.Int("max_concurrent", o.cfg.MaxConcurrent),
	)
	go o.run(b, ids, delay, onComplete)
	return true
}

func (o *Orchestrator) run(b *batch, ids []string, delay time.Duration, onComplete CompletionFunc) {
	defer close(b.done)
	logger := o.logger.With(zap.String("batch_id", b.id))

	for i, id := range ids {
		if !o.waitForSlot(b) {
			logger.Info("Batch stopped.", zap.Int("dispatched", i), zap.Int("total", len(ids)))
			return
		}

		result := o.startSession(id)
		if onComplete != nil {
			onComplete(result)
		}

		if delay > 0 && i < len(ids)-1 {
			select {
			case <-b.stop:
				logger.Info("Batch stopped.", zap.Int("dispatched", i+1), zap.Int("total", len(ids)))
				return
			case <-time.After(delay):
			}
		}
	}
	logger.Info("Batch finished.", zap.Int("total", len(ids)))
}

// waitForSlot polls until a slot frees up. It returns false once a stop was
// requested.
func (o *Orchestrator) waitForSlot(b *batch) bool {
	ticker := time.NewTicker(o.cfg.SlotPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return false
		default:
		}
		o.mu.Lock()
		o.reapExitedLocked()
		o.mu.Unlock()
		if o.CanStartSession() {
			return true
		}
		select {
		case <-b.stop:
			return false
		case <-ticker.C:
		}
	}
}

// reapExitedLocked marks Running results whose browser is gone as Stopped,
// so a slot freed by an exited browser is never counted twice. o.mu must be
// held.
func (o *Orchestrator) reapExitedLocked() {
	for id, r := range o.results {
		if r.Status != StatusRunning || o.sessions.IsActive(id) {
			continue
		}
		r.Status = StatusStopped
		r.EndTime = now()
		observability.RecordSessionStatus(string(StatusStopped))
		o.logger.Info("Session exited on its own.", zap.String("profile", id))
	}
}

func (o *Orchestrator) startSession(profileID string) SessionResult {
	result := &SessionResult{ProfileID: profileID, Status: StatusPending, StartTime: time.Now()}
	o.mu.Lock()
	o.results[profileID] = result
	o.mu.Unlock()
	observability.RecordSessionStatus(string(StatusPending))

	// A launch already dispatched runs to completion even if a stop arrives.
	err := o.sessions.Launch(context.Background(), profileID)

	o.mu.Lock()
	stoppedMeanwhile := result.Status == StatusStopped
	switch {
	case result.Status != StatusPending:
		// Stopped or marked complete while the launch was in flight.
	case err != nil:
		result.Status = StatusFailed
		result.Error = err.Error()
		result.EndTime = now()
		o.logger.Warn("Session failed to launch.", zap.String("profile", profileID), zap.Error(err))
	default:
		result.Status = StatusRunning
	}
	snapshot := *result
	o.mu.Unlock()

	if stoppedMeanwhile && err == nil {
		// StopBatch already swept the sessions; do not leave this one behind.
		o.sessions.Close(profileID)
	}
	observability.RecordSessionStatus(string(snapshot.Status))
	return snapshot
}

// StopBatch stops the worker, waits up to StopJoinTimeout for it, closes
// every active session and marks unfinished results Stopped. It returns the
// number of sessions closed.
func (o *Orchestrator) StopBatch() int {
	o.batchMu.Lock()
	b := o.current
	o.batchMu.Unlock()

	if b != nil {
		b.requestStop()
		select {
		case <-b.done:
		case <-time.After(o.cfg.StopJoinTimeout):
			o.logger.Warn("Batch worker did not stop in time.", zap.String("batch_id", b.id))
		}
	}

	closed := o.sessions.CloseAll()

	end := now()
	stopped := 0
	o.mu.Lock()
	for _, r := range o.results {
		if r.Status == StatusRunning || r.Status == StatusPending {
			r.Status = StatusStopped
			r.EndTime = end
			stopped++
			observability.RecordSessionStatus(string(StatusStopped))
		}
	}
	o.mu.Unlock()

	o.logger.Info("Batch stop complete.", zap.Int("closed", closed), zap.Int("marked_stopped", stopped))
	return closed
}

// StopSession closes one session and marks its result Stopped.
func (o *Orchestrator) StopSession(profileID string) bool {
	if !o.sessions.Close(profileID) {
		return false
	}
	o.mu.Lock()
	if r, ok := o.results[profileID]; ok {
		r.Status = StatusStopped
		r.EndTime = now()
		observability.RecordSessionStatus(string(StatusStopped))
	}
	o.mu.Unlock()
	return true
}

// MarkComplete records the end of a session's work as Completed, or Failed
// with reason when success is false. It reports whether a result existed.
func (o *Orchestrator) MarkComplete(profileID string, success bool, reason string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.results[profileID]
	if !ok {
		return false
	}
	if success {
		r.Status = StatusCompleted
	} else {
		r.Status = StatusFailed
	}
	r.Error = reason
	r.EndTime = now()
	observability.RecordSessionStatus(string(r.Status))
	return true
}

// Status returns the recorded status of profileID, falling back to Running
// for a session that is active outside any batch.
func (o *Orchestrator) Status(profileID string) (Status, bool) {
	o.mu.Lock()
	o.reapExitedLocked()
	r, ok := o.results[profileID]
	var status Status
	if ok {
		status = r.Status
	}
	o.mu.Unlock()

	if ok {
		return status, true
	}
	if o.sessions.IsActive(profileID) {
		return StatusRunning, true
	}
	return "", false
}

// Result returns a copy of the result for profileID.
func (o *Orchestrator) Result(profileID string) (SessionResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reapExitedLocked()
	r, ok := o.results[profileID]
	if !ok {
		return SessionResult{}, false
	}
	return *r, true
}

// Results returns a snapshot of every result.
func (o *Orchestrator) Results() map[string]SessionResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reapExitedLocked()
	out := make(map[string]SessionResult, len(o.results))
	for id, r := range o.results {
		out[id] = *r
	}
	return out
}

// Statistics counts the current results by status.
func (o *Orchestrator) Statistics() Statistics {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reapExitedLocked()
	var s Statistics
	for _, r := range o.results {
		s.Total++
		switch r.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusStopped:
			s.Stopped++
		}
	}
	return s
}

// Wait blocks until the current batch worker exits or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.batchMu.Lock()
	b := o.current
	o.batchMu.Unlock()
	if b == nil {
		return nil
	}
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
