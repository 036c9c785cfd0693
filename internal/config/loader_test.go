package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/models"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Queue, cfg.Queue)
	assert.Equal(t, Default().Webhooks, cfg.Webhooks)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  path: /var/lib/orchestrator/custom.db
queue:
  worker_count: 9
webhooks:
  push:
    agent_kind: explorer
    filter:
      base_branch: ["main"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/orchestrator/custom.db", cfg.Store.Path)
	assert.Equal(t, 9, cfg.Queue.WorkerCount)
	assert.Equal(t, 2*time.Second, cfg.Queue.PollInterval, "unset fields keep the built-in default")
	assert.Equal(t, models.AgentKindExplorer, cfg.Webhooks["push"].AgentKind)
	assert.Equal(t, []string{"main"}, cfg.Webhooks["push"].Filter.BaseBranch)
	assert.Equal(t, dir, cfg.ConfigDir())
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("ORCH_DB_PATH", "/tmp/env-expanded.db")
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  path: ${ORCH_DB_PATH}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-expanded.db", cfg.Store.Path)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [this is not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsBadQueueConfig(t *testing.T) {
	cfg := Default()
	cfg.Queue.WorkerCount = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker_count")
}

func TestFilterMatch(t *testing.T) {
	skipForks := true
	f := WebhookFilter{
		BaseBranch: []string{"main", "release"},
		SkipForks:  &skipForks,
		Labels:     []string{"ready"},
	}

	assert.True(t, f.Match(FilterContext{BaseBranch: "main", Labels: []string{"ready", "other"}}))
	assert.False(t, f.Match(FilterContext{BaseBranch: "dev", Labels: []string{"ready"}}))
	assert.False(t, f.Match(FilterContext{BaseBranch: "main", IsFork: true, Labels: []string{"ready"}}))
	assert.False(t, f.Match(FilterContext{BaseBranch: "main", Labels: []string{"wip"}}))
}

func TestFilterMatchEmptyAcceptsAll(t *testing.T) {
	var f WebhookFilter
	assert.True(t, f.Match(FilterContext{}))
}
