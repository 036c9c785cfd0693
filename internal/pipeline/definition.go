// Package pipeline parses declarative YAML pipeline definitions into a
// validated DAG and drives stage-by-stage execution against the Agent
// Core, including approval quorum/timeout handling and rollback.
package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/agentflow/orchestrator/internal/models"
)

// Parse decodes YAML source text into a PipelineDefinition and
// validates it. The definition is returned even on validation failure
// so callers can report which stage is at fault, but it must not be
// persisted or run until err is nil.
func Parse(source string) (models.PipelineDefinition, error) {
	var def models.PipelineDefinition
	if err := yaml.Unmarshal([]byte(source), &def); err != nil {
		return def, fmt.Errorf("parse pipeline yaml: %w", err)
	}
	if err := Validate(def); err != nil {
		return def, err
	}
	return def, nil
}

// Validate checks the structural rules a pipeline definition must
// satisfy before it can be persisted: unique stage names, a DAG with
// no cycles, every depends_on/parallel_with/rollback_to reference
// resolving to a real stage, and every approval gate naming at least
// one approver.
func Validate(def models.PipelineDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("pipeline definition must have a name")
	}
	if len(def.Stages) == 0 {
		return fmt.Errorf("pipeline %q must define at least one stage", def.Name)
	}

	seen := make(map[string]bool, len(def.Stages))
	for _, st := range def.Stages {
		if st.Name == "" {
			return fmt.Errorf("pipeline %q has an unnamed stage", def.Name)
		}
		if seen[st.Name] {
			return fmt.Errorf("pipeline %q has duplicate stage name %q", def.Name, st.Name)
		}
		seen[st.Name] = true
	}

	for _, st := range def.Stages {
		for _, dep := range st.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("stage %q depends_on unknown stage %q", st.Name, dep)
			}
		}
		for _, peer := range st.ParallelWith {
			if !seen[peer] {
				return fmt.Errorf("stage %q parallel_with unknown stage %q", st.Name, peer)
			}
		}
		if st.OnFailure == models.FailurePolicyRollback && st.RollbackTo == "" {
			return fmt.Errorf("stage %q has on_failure: rollback but no rollback_to target", st.Name)
		}
		if st.RollbackTo != "" && !seen[st.RollbackTo] {
			return fmt.Errorf("stage %q rollback_to unknown stage %q", st.Name, st.RollbackTo)
		}
		if st.RequiresApproval != nil && len(st.RequiresApproval.Approvers) == 0 {
			return fmt.Errorf("stage %q requires_approval but lists no approvers", st.Name)
		}
	}

	if _, err := TopologicalRounds(def); err != nil {
		return fmt.Errorf("pipeline %q: %w", def.Name, err)
	}
	return nil
}

// TopologicalRounds groups stages into dependency-ordered rounds: every
// stage in round N depends only on stages in rounds < N, and every
// stage within a round can dispatch concurrently. Returns an error if
// the depends_on graph contains a cycle.
func TopologicalRounds(def models.PipelineDefinition) ([][]string, error) {
	byName := make(map[string]models.StageDefinition, len(def.Stages))
	remaining := make(map[string]bool, len(def.Stages))
	for _, st := range def.Stages {
		byName[st.Name] = st
		remaining[st.Name] = true
	}

	var rounds [][]string
	done := make(map[string]bool, len(def.Stages))

	for len(remaining) > 0 {
		var round []string
		for name := range remaining {
			st := byName[name]
			ready := true
			for _, dep := range st.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				round = append(round, name)
			}
		}
		if len(round) == 0 {
			return nil, fmt.Errorf("cycle detected in stage dependency graph")
		}
		for _, name := range round {
			delete(remaining, name)
			done[name] = true
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

// StageByName finds a stage definition by name, or ok=false.
func StageByName(def models.PipelineDefinition, name string) (models.StageDefinition, bool) {
	for _, st := range def.Stages {
		if st.Name == name {
			return st, true
		}
	}
	return models.StageDefinition{}, false
}
