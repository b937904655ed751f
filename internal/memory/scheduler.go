package memory

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// ExtractFunc runs one extraction cycle for a user against the transcript
// and source captured when the task was scheduled.
type ExtractFunc func(ctx context.Context, userID, transcript string, source TurnSource)

// Scheduler coalesces bursts of conversational activity per user into a
// single deferred extraction run. At most one pending task exists per user;
// a new turn within the delay window cancels and replaces the prior task.
type Scheduler struct {
	delay   time.Duration
	extract ExtractFunc

	mu      sync.Mutex
	pending map[string]*pendingTask
	wg      sync.WaitGroup
	stopped bool

	// userLocks serializes extraction runs for the same user so a firing
	// task never overlaps a still-running one.
	userLocks sync.Map
}

type pendingTask struct {
	userID     string
	transcript string
	source     TurnSource
	timer      *time.Timer
	fireAt     time.Time
	canceled   bool
}

func NewScheduler(delay time.Duration, extract ExtractFunc) *Scheduler {
	if delay <= 0 {
		delay = 30 * time.Second
	}
	return &Scheduler{
		delay:   delay,
		extract: extract,
		pending: make(map[string]*pendingTask),
	}
}

// NotifyTurnComplete records the latest transcript for the user and
// (re)schedules extraction after the debounce delay. Returns immediately;
// the extraction runs on its own goroutine once the user goes quiet.
func (s *Scheduler) NotifyTurnComplete(userID, transcript string, source TurnSource) {
	if strings.TrimSpace(transcript) == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if prev, ok := s.pending[userID]; ok {
		prev.canceled = true
		prev.timer.Stop()
	}

	task := &pendingTask{
		userID:     userID,
		transcript: transcript,
		source:     source,
		fireAt:     time.Now().Add(s.delay),
	}
	task.timer = time.AfterFunc(s.delay, func() {
		s.fire(task)
	})
	s.pending[userID] = task
}

// Cancel drops any pending task for the user without running extraction.
// No-op when nothing is pending. A task that already started its body is
// allowed to run to completion.
func (s *Scheduler) Cancel(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.pending[userID]
	if !ok {
		return
	}
	task.canceled = true
	task.timer.Stop()
	delete(s.pending, userID)
}

// PendingCount reports how many users currently have a scheduled task.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) fire(task *pendingTask) {
	s.mu.Lock()
	if task.canceled || s.stopped {
		s.mu.Unlock()
		return
	}
	// Remove from the pending set before running so a new turn arriving
	// mid-extraction schedules a fresh task instead of touching this one.
	if cur, ok := s.pending[task.userID]; ok && cur == task {
		delete(s.pending, task.userID)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[scheduler] extraction panic for %s: %v", task.userID, r)
			}
		}()
		lock := s.userLock(task.userID)
		lock.Lock()
		defer lock.Unlock()
		s.extract(context.Background(), task.userID, task.transcript, task.source)
	}()
}

func (s *Scheduler) userLock(userID string) *sync.Mutex {
	v, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Stop cancels all pending tasks and waits for in-flight extractions to
// finish. The scheduler accepts no new work afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for userID, task := range s.pending {
		task.canceled = true
		task.timer.Stop()
		delete(s.pending, userID)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
