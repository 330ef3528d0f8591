// Package patterns implements the reasoning-pattern and error-pattern
// engines: reusable approaches tracked by success rate, and fingerprinted
// recurring failures that auto-resolve once proven fixed.
package patterns

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/mirabackend/mira/internal/apperror"
	"github.com/mirabackend/mira/internal/storage"
)

// minGlobalOccurrences and minSessionFailures are the two thresholds a
// fingerprint must clear before it is eligible for auto-resolution: at
// least this many occurrences across all sessions, AND at least this many
// failures logged within the current session.
const (
	minGlobalOccurrences = 3
	minSessionFailures   = 3
)

// Store wraps the storage layer with pattern-engine business rules.
type Store struct {
	db *storage.Store
}

// New returns a Store backed by db.
func New(db *storage.Store) *Store {
	return &Store{db: db}
}

// StorePattern saves a new reasoning pattern.
func (s *Store) StorePattern(ctx context.Context, name, trigger, description string) (*storage.ReasoningPattern, error) {
	p := &storage.ReasoningPattern{ID: ulid.Make().String(), Name: name, Trigger: trigger, Description: description}
	if err := s.db.StorePattern(ctx, p); err != nil {
		return nil, apperror.Wrap(apperror.DbError, "store pattern", err)
	}
	return p, nil
}

// UpdatePattern overwrites a pattern's name/trigger/description.
func (s *Store) UpdatePattern(ctx context.Context, p *storage.ReasoningPattern) error {
	if err := s.db.UpdatePattern(ctx, p); err != nil {
		return apperror.Wrap(apperror.DbError, "update pattern", err)
	}
	return nil
}

// DeletePattern removes a pattern.
func (s *Store) DeletePattern(ctx context.Context, id string) error {
	if err := s.db.DeletePattern(ctx, id); err != nil {
		return apperror.Wrap(apperror.DbError, "delete pattern", err)
	}
	return nil
}

// ListPatterns returns every stored pattern, best success rate first.
func (s *Store) ListPatterns(ctx context.Context) ([]*storage.ReasoningPattern, error) {
	list, err := s.db.ListPatterns(ctx)
	if err != nil {
		return nil, apperror.Wrap(apperror.DbError, "list patterns", err)
	}
	return list, nil
}

// FindByTrigger returns patterns exactly matching trigger.
func (s *Store) FindByTrigger(ctx context.Context, trigger string) ([]*storage.ReasoningPattern, error) {
	list, err := s.db.FindPatternsByTrigger(ctx, trigger)
	if err != nil {
		return nil, apperror.Wrap(apperror.DbError, "find patterns by trigger", err)
	}
	return list, nil
}

// minRecommendedUses is the floor of recorded usages a pattern must have
// before it is trusted enough to recommend proactively.
const minRecommendedUses = 2

// GetRecommendedPatterns returns the top n proven patterns.
func (s *Store) GetRecommendedPatterns(ctx context.Context, n int) ([]*storage.ReasoningPattern, error) {
	list, err := s.db.RecommendedPatterns(ctx, minRecommendedUses, n)
	if err != nil {
		return nil, apperror.Wrap(apperror.DbError, "recommended patterns", err)
	}
	return list, nil
}

// StoreUsage records a single use of a pattern and recomputes its
// success_rate = success_count / use_count.
func (s *Store) StoreUsage(ctx context.Context, patternID, sessionID string, success bool) error {
	if err := s.db.StorePatternUsage(ctx, ulid.Make().String(), patternID, sessionID, success); err != nil {
		return apperror.Wrap(apperror.DbError, "store pattern usage", err)
	}
	return nil
}

// RecordError fingerprints a raw tool error and upserts the resulting error
// pattern. Call this on every tool failure; it is cheap and idempotent.
func (s *Store) RecordError(ctx context.Context, toolName, rawError string) (fingerprint string, err error) {
	fingerprint, template := Fingerprint(toolName, rawError)
	if err := s.db.StoreErrorPattern(ctx, ulid.Make().String(), fingerprint, toolName, template); err != nil {
		return "", apperror.Wrap(apperror.DbError, "store error pattern", err)
	}
	return fingerprint, nil
}

// TryAutoResolve checks whether any unresolved error pattern for toolName
// should be considered fixed after a successful call in sessionID. A
// fingerprint resolves only if it has at least minGlobalOccurrences
// occurrences across all sessions AND at least minSessionFailures failures
// logged in this session's behavior log; among qualifying candidates, the
// one whose most recent session-local failure has the highest
// sequence_position wins (the failure freshest in this session's timeline).
// Returns the resolved fingerprint, or "" if nothing qualified.
func (s *Store) TryAutoResolve(ctx context.Context, toolName, sessionID, resolution string) (string, error) {
	candidates, err := s.db.UnresolvedPatternsForTool(ctx, toolName, minGlobalOccurrences)
	if err != nil {
		return "", apperror.Wrap(apperror.DbError, "unresolved patterns for tool", err)
	}

	var winner string
	var winnerSeq int64 = -1
	for _, c := range candidates {
		count, maxSeq, err := s.db.SessionFailureCount(ctx, sessionID, c.Fingerprint)
		if err != nil {
			return "", apperror.Wrap(apperror.DbError, "session failure count", err)
		}
		if count < minSessionFailures {
			continue
		}
		if maxSeq > winnerSeq {
			winner = c.Fingerprint
			winnerSeq = maxSeq
		}
	}
	if winner == "" {
		return "", nil
	}

	if _, err := s.db.ResolveErrorPattern(ctx, winner, resolution); err != nil {
		return "", apperror.Wrap(apperror.DbError, "resolve error pattern", err)
	}
	return winner, nil
}

// LogSessionFailure appends a behavior-log entry recording that toolName
// failed with the given fingerprint in sessionID, feeding TryAutoResolve's
// session-local failure count. eventData is the caller's serialized
// {"error_fingerprint": "...", ...} payload.
func (s *Store) LogSessionFailure(ctx context.Context, sessionID, eventData string) error {
	entry := &storage.BehaviorLogEntry{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		EventType: "tool_failure",
		EventData: eventData,
	}
	if err := s.db.AppendBehaviorLog(ctx, entry); err != nil {
		return apperror.Wrap(apperror.DbError, "append behavior log", err)
	}
	return nil
}
