// Package memory implements the durable project-memory store: key/value
// facts that accumulate confidence across sessions, and TTL-bound system
// observations written by the passive capture hook.
package memory

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mirabackend/mira/internal/apperror"
	"github.com/mirabackend/mira/internal/logging"
	"github.com/mirabackend/mira/internal/storage"
)

// Status values a MemoryFact can hold. A fact starts tentative and is
// promoted to confirmed once it has been reaffirmed from three distinct
// sessions.
const (
	StatusTentative = "tentative"
	StatusConfirmed = "confirmed"
)

// confirmSessionThreshold is the number of distinct sessions that must
// reaffirm a fact before it is promoted from tentative to confirmed.
const confirmSessionThreshold = 3

// confirmedConfidence is the confidence value a fact is raised to on
// promotion; callers below the threshold keep accumulating smaller bumps.
const confirmedConfidence = 0.9

// Store wraps the storage layer with memory-fact and observation business
// rules.
type Store struct {
	db *storage.Store
}

// New returns a Store backed by db.
func New(db *storage.Store) *Store {
	return &Store{db: db}
}

// RememberInput is the caller-supplied side of a fact write; Store fills in
// bookkeeping fields (ID, timestamps, session-count/promotion logic).
type RememberInput struct {
	ProjectID string
	Team      string
	Scope     string
	Key       string
	Value     string
	SessionID string
	// TTL is an optional relative duration expression ("+7 days", "-1 hour")
	// resolved to an absolute expiry at write time. Empty means no expiry.
	TTL string
}

// Remember upserts a fact by its natural key (project, team, scope, key).
// A write from a session that has already contributed to this fact leaves
// session_count unchanged; a write from a new session increments it, and
// reaching confirmSessionThreshold distinct sessions promotes the fact to
// confirmed with raised confidence.
func (s *Store) Remember(ctx context.Context, in RememberInput) (*storage.MemoryFact, error) {
	var expiresAt *time.Time
	if in.TTL != "" {
		t, err := ResolveTTL(in.TTL, time.Now())
		if err != nil {
			return nil, apperror.Wrap(apperror.InvalidArgs, "invalid ttl", err)
		}
		expiresAt = &t
	}

	candidate := &storage.MemoryFact{
		ID:            ulid.Make().String(),
		ProjectID:     in.ProjectID,
		Team:          in.Team,
		Scope:         in.Scope,
		Key:           in.Key,
		Value:         in.Value,
		Status:        StatusTentative,
		Confidence:    0.5,
		SessionCount:  1,
		LastSessionID: in.SessionID,
		ExpiresAt:     expiresAt,
	}

	fact, err := s.db.UpsertMemoryFact(ctx, candidate, func(existing *storage.MemoryFact) *storage.MemoryFact {
		existing.Value = in.Value
		existing.ExpiresAt = expiresAt
		if existing.LastSessionID != in.SessionID {
			existing.SessionCount++
			existing.LastSessionID = in.SessionID
			existing.Confidence = bumpConfidence(existing.Confidence)
			if existing.SessionCount >= confirmSessionThreshold {
				existing.Status = StatusConfirmed
				existing.Confidence = confirmedConfidence
			}
		}
		return existing
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.DbError, "upsert memory fact", err)
	}
	return fact, nil
}

func bumpConfidence(c float64) float64 {
	next := c + 0.15
	if next > confirmedConfidence {
		return confirmedConfidence
	}
	return next
}

// List returns non-expired facts for a project/scope.
func (s *Store) List(ctx context.Context, projectID, scope string) ([]*storage.MemoryFact, error) {
	facts, err := s.db.ListMemoryFacts(ctx, projectID, scope)
	if err != nil {
		return nil, apperror.Wrap(apperror.DbError, "list memory facts", err)
	}
	return facts, nil
}

// ObserveInput is the caller-supplied side of a passive observation write.
type ObserveInput struct {
	ProjectID       string
	ObservationType string
	Key             string
	Payload         string
	TTL             string
}

// Observe records (or overwrites) a keyed, TTL-bound observation. Unlike
// Remember, observations do not merge across sessions: each write replaces
// the prior payload and resets the TTL clock, matching the teacher's
// snapshot-style todo/plan state.
func (s *Store) Observe(ctx context.Context, in ObserveInput) error {
	var expiresAt *time.Time
	if in.TTL != "" {
		t, err := ResolveTTL(in.TTL, time.Now())
		if err != nil {
			return apperror.Wrap(apperror.InvalidArgs, "invalid ttl", err)
		}
		expiresAt = &t
	}

	obs := &storage.SystemObservation{
		ID:              ulid.Make().String(),
		ProjectID:       in.ProjectID,
		ObservationType: in.ObservationType,
		Key:             in.Key,
		Payload:         in.Payload,
		ExpiresAt:       expiresAt,
	}
	if err := s.db.UpsertObservation(ctx, obs); err != nil {
		return apperror.Wrap(apperror.DbError, "upsert observation", err)
	}
	return nil
}

// ListObservations returns non-expired observations of a type.
func (s *Store) ListObservations(ctx context.Context, projectID, observationType string) ([]*storage.SystemObservation, error) {
	obs, err := s.db.ListObservations(ctx, projectID, observationType)
	if err != nil {
		return nil, apperror.Wrap(apperror.DbError, "list observations", err)
	}
	return obs, nil
}

// SweepExpired deletes observation rows past their TTL and logs how many
// were removed.
func (s *Store) SweepExpired(ctx context.Context) {
	n, err := s.db.SweepExpiredObservations(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("observation sweep failed")
		return
	}
	if n > 0 {
		logging.Debug().Int64("count", n).Msg("swept expired observations")
	}
}

var ttlExpr = regexp.MustCompile(`^([+-])(\d+)\s*(second|minute|hour|day|week)s?$`)

// ResolveTTL resolves a relative duration expression ("+7 days", "-1 hour")
// to an absolute timestamp relative to now. The sign is almost always "+"
// (an expiry in the future); "-" is accepted because the original engine
// allows backdating an observation's expiry, e.g. to immediately expire it.
func ResolveTTL(expr string, now time.Time) (time.Time, error) {
	m := ttlExpr.FindStringSubmatch(strings.TrimSpace(strings.ToLower(expr)))
	if m == nil {
		return time.Time{}, fmt.Errorf("unrecognized ttl expression %q", expr)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("ttl expression %q: %w", expr, err)
	}
	if m[1] == "-" {
		n = -n
	}

	var unit time.Duration
	switch m[3] {
	case "second":
		unit = time.Second
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	}
	return now.Add(time.Duration(n) * unit), nil
}
