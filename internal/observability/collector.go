package observability

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/internal/store"
)

// RefreshGauges pulls the current agent-state distribution and
// cumulative cost totals from the store and sets the corresponding
// gauges. Intended to be called on a short ticker from the
// coordinator: a poll-and-set refresh rather than updating gauges
// inline on every write, since cost/state totals are cheap to
// recompute wholesale and expensive to keep incrementally consistent
// across every mutation site.
func RefreshGauges(ctx context.Context, s *store.Store, m *Metrics) error {
	counts, err := s.AgentStateCounts(ctx)
	if err != nil {
		return fmt.Errorf("refresh agent state gauges: %w", err)
	}
	m.SetAgentStateCounts(counts)

	total, err := s.CostReportTotal(ctx)
	if err != nil {
		return fmt.Errorf("refresh cost gauges: %w", err)
	}
	m.SetCostTotals(total.InputTokens, total.OutputTokens)
	return nil
}
