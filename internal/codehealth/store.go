package codehealth

import (
	"context"
	"encoding/json"

	"github.com/mirabackend/mira/internal/apperror"
	"github.com/mirabackend/mira/internal/memory"
)

// findingPayload is the JSON shape written into a code_health_finding
// observation's Payload column.
type findingPayload struct {
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// StoreFindings writes each collected finding as a TTL-bound observation
// (observation_type = "code_health_finding"), reusing the memory store's
// sweep machinery instead of a dedicated findings table. A 72-hour TTL
// keeps a scan's results alive across a typical working session without
// accumulating stale findings from a project that moved on.
func StoreFindings(ctx context.Context, mem *memory.Store, projectID string, findings []Finding) (int, error) {
	for _, f := range findings {
		payload, err := json.Marshal(findingPayload{
			Content:    f.Content,
			Category:   f.Category,
			Confidence: f.Confidence,
		})
		if err != nil {
			return 0, apperror.Wrap(apperror.InvalidArgs, "marshal code health finding", err)
		}

		if err := mem.Observe(ctx, memory.ObserveInput{
			ProjectID:       projectID,
			ObservationType: "code_health_finding",
			Key:             f.Key,
			Payload:         string(payload),
			TTL:             "+72 hours",
		}); err != nil {
			return 0, err
		}
	}
	return len(findings), nil
}
