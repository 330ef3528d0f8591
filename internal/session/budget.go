package session

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mirabackend/mira/internal/apperror"
	"github.com/mirabackend/mira/internal/logging"
	"github.com/mirabackend/mira/pkg/types"
)

const (
	// budgetCallsPerSecond is the steady-state rate a single session may
	// call the provider at; the burst lets normal back-to-back turns
	// through without waiting.
	budgetCallsPerSecond = 0.5
	budgetBurst          = 4
	// budgetMaxTokensPerSession caps total accounted cost (input+output
	// tokens) before a session is refused further turns. 0 disables the cap.
	budgetMaxTokensPerSession = 2_000_000
)

// Defaults for newly constructed processors, overridable via SetBudgetConfig
// before the first processor is built.
var (
	budgetDefaultsMu       sync.Mutex
	budgetDefaultRate      = float64(budgetCallsPerSecond)
	budgetDefaultBurst     = budgetBurst
	budgetDefaultMaxTokens = budgetMaxTokensPerSession
)

// SetBudgetConfig overrides the defaults defaultBudgetTracker uses to build
// a BudgetTracker for every processor constructed afterward. Call once at
// startup, after loading configuration and before wiring the session
// service. A nil cfg, or a zero field within it, leaves that default as-is.
func SetBudgetConfig(cfg *types.BudgetConfig) {
	if cfg == nil {
		return
	}
	budgetDefaultsMu.Lock()
	defer budgetDefaultsMu.Unlock()
	if cfg.CallsPerSecond > 0 {
		budgetDefaultRate = cfg.CallsPerSecond
	}
	if cfg.Burst > 0 {
		budgetDefaultBurst = cfg.Burst
	}
	if cfg.MaxTokensPerSession != 0 {
		budgetDefaultMaxTokens = cfg.MaxTokensPerSession
	}
}

// BudgetTracker enforces a per-session token-bucket rate limit on LLM calls
// and accounts the token cost each completed turn spends, so no single
// session can monopolize provider throughput or run away on cost.
type BudgetTracker struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	spent    map[string]int

	rate     rate.Limit
	burst    int
	maxSpend int
}

// NewBudgetTracker creates a tracker with the given per-session rate, burst,
// and lifetime token cap (0 disables the cap).
func NewBudgetTracker(callsPerSecond float64, burst, maxSpend int) *BudgetTracker {
	return &BudgetTracker{
		limiters: make(map[string]*rate.Limiter),
		spent:    make(map[string]int),
		rate:     rate.Limit(callsPerSecond),
		burst:    burst,
		maxSpend: maxSpend,
	}
}

// defaultBudgetTracker returns a tracker using this orchestrator's current
// defaults (built-in, or overridden via SetBudgetConfig).
func defaultBudgetTracker() *BudgetTracker {
	budgetDefaultsMu.Lock()
	defer budgetDefaultsMu.Unlock()
	return NewBudgetTracker(budgetDefaultRate, budgetDefaultBurst, budgetDefaultMaxTokens)
}

func (b *BudgetTracker) limiterFor(sessionID string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(b.rate, b.burst)
		b.limiters[sessionID] = l
	}
	return l
}

// Check fails fast with apperror.BudgetExceeded if the session has either
// exhausted its lifetime token cap or has no rate-limit tokens available
// right now. It must be called once per orchestrator request, before any
// provider call is made.
func (b *BudgetTracker) Check(sessionID string) error {
	b.mu.Lock()
	spent := b.spent[sessionID]
	b.mu.Unlock()

	if b.maxSpend > 0 && spent >= b.maxSpend {
		return apperror.New(apperror.BudgetExceeded,
			fmt.Sprintf("session %s has spent %d tokens, exceeding its budget of %d", sessionID, spent, b.maxSpend))
	}

	if !b.limiterFor(sessionID).Allow() {
		return apperror.New(apperror.BudgetExceeded,
			fmt.Sprintf("session %s is calling the provider faster than its allowed rate", sessionID))
	}
	return nil
}

// Record adds cost (input+output tokens for the request just completed) to
// the session's running total. Call exactly once per request, after the
// loop ends regardless of outcome.
func (b *BudgetTracker) Record(sessionID string, cost int) error {
	if sessionID == "" {
		return apperror.New(apperror.InvalidArgs, "budget record: empty session id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent[sessionID] += cost
	return nil
}

// recordBudget logs and swallows a Record failure, matching the
// log-and-continue rule for post-loop budget accounting.
func recordBudget(b *BudgetTracker, sessionID string, cost int) {
	if b == nil {
		return
	}
	if err := b.Record(sessionID, cost); err != nil {
		logging.ForSession(sessionID).Warn().Err(err).Msg("failed to record budget cost")
	}
}
