package operations

import (
	"fmt"
	"sync"
	"time"
)

// ProgressSnapshot is a point-in-time view of a ProgressTracker
type ProgressSnapshot struct {
	Epoch      int64   `json:"epoch"`
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Step       string  `json:"step,omitempty"`
	Processed  int     `json:"processed,omitempty"`
	StepTotal  int     `json:"step_total,omitempty"`
	Finished   bool    `json:"finished"`
}

// ProgressTracker tracks progress of the current batch. Increments tagged
// with a superseded epoch are ignored.
type ProgressTracker struct {
	mu        sync.Mutex
	epoch     int64
	total     int
	current   int
	status    ProgressStatus
	finished  bool
	startTime time.Time
	listeners []func(ProgressSnapshot)
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{startTime: time.Now(), epoch: UnboundEpoch}
}

// OnChange registers a listener called after every accepted update
func (p *ProgressTracker) OnChange(fn func(ProgressSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Reset starts tracking a new batch of total steps for epoch
func (p *ProgressTracker) Reset(total int, epoch int64) {
	p.mu.Lock()
	p.epoch = epoch
	p.total = total
	p.current = 0
	p.status = ProgressStatus{}
	p.finished = false
	p.startTime = time.Now()
	snap, listeners := p.snapshotLocked(), p.listeners
	p.mu.Unlock()
	notify(listeners, snap)
}

// Increment counts one completed step. It returns false when epoch is stale.
func (p *ProgressTracker) Increment(epoch int64) bool {
	p.mu.Lock()
	if epoch != p.epoch {
		p.mu.Unlock()
		return false
	}
	p.current++
	snap, listeners := p.snapshotLocked(), p.listeners
	p.mu.Unlock()
	notify(listeners, snap)
	return true
}

// SetStatus records the progress of a composed job step
func (p *ProgressTracker) SetStatus(status ProgressStatus) {
	p.mu.Lock()
	p.status = status
	snap, listeners := p.snapshotLocked(), p.listeners
	p.mu.Unlock()
	notify(listeners, snap)
}

// Finish marks the batch as complete
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	p.finished = true
	p.current = p.total
	snap, listeners := p.snapshotLocked(), p.listeners
	p.mu.Unlock()
	notify(listeners, snap)
}

// Snapshot returns the current progress state
func (p *ProgressTracker) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// ElapsedString returns a formatted elapsed time string
func (p *ProgressTracker) ElapsedString() string {
	p.mu.Lock()
	elapsed := time.Since(p.startTime)
	p.mu.Unlock()

	if elapsed < time.Minute {
		return fmt.Sprintf("%.0f seconds", elapsed.Seconds())
	} else if elapsed < time.Hour {
		return fmt.Sprintf("%.1f minutes", elapsed.Minutes())
	}
	return fmt.Sprintf("%.1f hours", elapsed.Hours())
}

func (p *ProgressTracker) snapshotLocked() ProgressSnapshot {
	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}
	return ProgressSnapshot{
		Epoch:      p.epoch,
		Current:    p.current,
		Total:      p.total,
		Percentage: percentage,
		Step:       p.status.Step,
		Processed:  p.status.Processed,
		StepTotal:  p.status.Total,
		Finished:   p.finished,
	}
}

// notify runs outside the lock so listeners may read the tracker
func notify(listeners []func(ProgressSnapshot), snap ProgressSnapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}
