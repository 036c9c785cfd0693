package store

import (
	"context"

	"github.com/agentflow/orchestrator/internal/apperr"
)

// CostReport summarizes token usage for one scope (an epic or the
// whole system) over every agent message recorded so far.
type CostReport struct {
	AgentCount   int `db:"agent_count"`
	MessageCount int `db:"message_count"`
	InputTokens  int `db:"input_tokens"`
	OutputTokens int `db:"output_tokens"`
}

// CostReportForEpic aggregates token usage across every agent whose
// Context.Epic matches the given epic, via a JSON extraction on the
// stored agent context blob.
func (s *Store) CostReportForEpic(ctx context.Context, epic string) (CostReport, error) {
	var report CostReport
	err := s.db.GetContext(ctx, &report, `
		SELECT
			COUNT(DISTINCT a.id) AS agent_count,
			COUNT(m.id) AS message_count,
			COALESCE(SUM(m.input_tokens), 0) AS input_tokens,
			COALESCE(SUM(m.output_tokens), 0) AS output_tokens
		FROM agents a
		LEFT JOIN agent_messages m ON m.agent_id = a.id
		WHERE json_extract(a.context, '$.epic') = ?`, epic)
	if err != nil {
		return CostReport{}, apperr.Wrap(apperr.KindStorageUnavailable, "aggregate cost report for epic", err)
	}
	return report, nil
}

// CostReportTotal aggregates token usage across the whole system.
func (s *Store) CostReportTotal(ctx context.Context) (CostReport, error) {
	var report CostReport
	err := s.db.GetContext(ctx, &report, `
		SELECT
			COUNT(DISTINCT a.id) AS agent_count,
			COUNT(m.id) AS message_count,
			COALESCE(SUM(m.input_tokens), 0) AS input_tokens,
			COALESCE(SUM(m.output_tokens), 0) AS output_tokens
		FROM agents a
		LEFT JOIN agent_messages m ON m.agent_id = a.id`)
	if err != nil {
		return CostReport{}, apperr.Wrap(apperr.KindStorageUnavailable, "aggregate total cost report", err)
	}
	return report, nil
}

// AgentStateCounts returns the count of agents in each state, used by
// the `alert`/dashboard-adjacent health surfaces the coordinator exposes.
func (s *Store) AgentStateCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT state, COUNT(1) FROM agents GROUP BY state`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "aggregate agent state counts", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		out[state] = count
	}
	return out, rows.Err()
}
