package memory

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/larkmind/internal/config"
)

// Service is the facade collaborators talk to: turn-completion signals in,
// formatted context and erasure out. It owns the debounce scheduler and runs
// extraction cycles against the store.
type Service struct {
	store     *Store
	extractor *Extractor
	ranker    *Ranker
	scheduler *Scheduler
}

func NewService(store *Store, llm LLMClient, cfg config.MemoryConfig) *Service {
	delay := 30 * time.Second
	if d, err := time.ParseDuration(strings.TrimSpace(cfg.DebounceDelay)); err == nil && d > 0 {
		delay = d
	}

	s := &Service{
		store:     store,
		extractor: NewExtractor(llm),
		ranker:    NewRanker(store, cfg.MaxContextMemories),
	}
	s.scheduler = NewScheduler(delay, s.runExtraction)
	return s
}

// NotifyTurnComplete signals that a conversational turn finished. Non-blocking;
// extraction runs after the debounce delay if the user stays quiet. Entries
// extracted from this turn are attributed to the given source.
func (s *Service) NotifyTurnComplete(userID, transcript string, source TurnSource) {
	s.scheduler.NotifyTurnComplete(userID, transcript, source)
}

// RequestContext builds the personalization block for a reply. Store failures
// degrade to an empty context instead of failing the caller.
func (s *Service) RequestContext(userID, query string, importanceThreshold int) string {
	profile, err := s.store.GetProfile(userID)
	if err != nil && !errors.Is(err, ErrProfileNotFound) {
		log.Printf("[memory] load profile for context failed: %v", err)
		profile = nil
	}

	memories, err := s.ranker.Rank(userID, query, importanceThreshold)
	if err != nil {
		log.Printf("[memory] rank memories for context failed: %v", err)
		memories = nil
	}

	return FormatUserContext(profile, memories)
}

// EraseUserData cancels any pending extraction for the user and purges the
// stored profile and memories.
func (s *Service) EraseUserData(userID string) error {
	s.scheduler.Cancel(userID)
	if err := s.store.DeleteUserData(userID); err != nil {
		return err
	}
	log.Printf("[memory] erased all data for %s", userID)
	return nil
}

// UserStats reports the stored state for a user.
func (s *Service) UserStats(userID string) (*Stats, error) {
	return s.store.UserStats(userID)
}

// Stop drains the scheduler; pending tasks are canceled, in-flight
// extractions complete.
func (s *Service) Stop() {
	s.scheduler.Stop()
}

// runExtraction is the scheduler's task body: one full extraction cycle. On
// any failure, the cycle is logged and discarded; the store keeps its last
// committed state and the next conversation turn reschedules naturally.
func (s *Service) runExtraction(ctx context.Context, userID, transcript string, source TurnSource) {
	current, err := s.store.GetProfile(userID)
	if err != nil && !errors.Is(err, ErrProfileNotFound) {
		log.Printf("[memory] extraction for %s: load profile failed: %v", userID, err)
		return
	}

	patch, entries, err := s.extractor.Extract(ctx, userID, transcript, current)
	if err != nil {
		log.Printf("[memory] extraction for %s failed: %v", userID, err)
		return
	}

	for i := range entries {
		entries[i].SourceChatID = source.ChatID
		entries[i].SourceMessageID = source.MessageID
		entries[i].ChatType = source.ChatType
	}

	if err := s.store.UpsertProfile(userID, patch); err != nil {
		log.Printf("[memory] extraction for %s: upsert profile failed: %v", userID, err)
		return
	}
	if err := s.store.InsertMemories(userID, entries); err != nil {
		log.Printf("[memory] extraction for %s: insert memories failed: %v", userID, err)
		return
	}

	log.Printf("[memory] extraction for %s complete: %d entries", userID, len(entries))
}
