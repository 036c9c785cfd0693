package config

import "path/filepath"

// FilterContext is the delivery-derived data a WebhookFilter is
// matched against. internal/coordinator populates this from the
// enqueued event's payload before consulting the registry.
type FilterContext struct {
	BaseBranch string
	IsFork     bool
	Conclusion string
	Labels     []string
	Author     string
	Paths      []string
}

// Match reports whether ctx satisfies f. Keys present on f combine
// with AND; values within one key's list combine with OR. A
// zero-value filter matches everything.
func (f WebhookFilter) Match(ctx FilterContext) bool {
	if len(f.BaseBranch) > 0 && !contains(f.BaseBranch, ctx.BaseBranch) {
		return false
	}
	if f.SkipForks != nil && *f.SkipForks && ctx.IsFork {
		return false
	}
	if len(f.Conclusion) > 0 && !contains(f.Conclusion, ctx.Conclusion) {
		return false
	}
	if len(f.Labels) > 0 && !anyContains(f.Labels, ctx.Labels) {
		return false
	}
	if len(f.Author) > 0 && !contains(f.Author, ctx.Author) {
		return false
	}
	if len(f.Paths) > 0 && !anyGlobMatches(f.Paths, ctx.Paths) {
		return false
	}
	return true
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func anyContains(want, have []string) bool {
	for _, w := range want {
		if contains(have, w) {
			return true
		}
	}
	return false
}

func anyGlobMatches(globs, paths []string) bool {
	for _, g := range globs {
		for _, p := range paths {
			if ok, _ := filepath.Match(g, p); ok {
				return true
			}
		}
	}
	return false
}
