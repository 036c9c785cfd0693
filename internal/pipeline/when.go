package pipeline

import (
	"slices"

	"github.com/agentflow/orchestrator/internal/models"
)

// EvalContext is the trigger-time data a WhenClause is evaluated
// against.
type EvalContext struct {
	Branch    string
	Paths     []string
	Labels    []string
	Variables map[string]string
}

// Eval reports whether w is satisfied by ctx. Terms within one clause
// combine with AND; an empty term is vacuously satisfied. Or provides
// alternative clauses, any one of which satisfies the whole.
func Eval(w *models.WhenClause, ctx EvalContext) bool {
	if w == nil {
		return true
	}
	if evalClause(*w, ctx) {
		return true
	}
	for _, alt := range w.Or {
		if Eval(&alt, ctx) {
			return true
		}
	}
	return false
}

func evalClause(w models.WhenClause, ctx EvalContext) bool {
	if len(w.Branch) > 0 && !slices.Contains(w.Branch, ctx.Branch) {
		return false
	}
	if len(w.Paths) > 0 && !anyPathMatches(w.Paths, ctx.Paths) {
		return false
	}
	if len(w.Labels) > 0 && !anyLabelMatches(w.Labels, ctx.Labels) {
		return false
	}
	for k, v := range w.Variables {
		if ctx.Variables[k] != v {
			return false
		}
	}
	return true
}

func anyPathMatches(want, have []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

func anyLabelMatches(want, have []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}
