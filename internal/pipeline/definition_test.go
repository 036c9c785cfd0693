package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/models"
)

const samplePipeline = `
name: story-flow
stages:
  - name: develop
    agent_kind: story-developer
    task: implement the story
  - name: review
    agent_kind: code-reviewer
    task: review the diff
    depends_on: [develop]
  - name: merge
    agent_kind: pr-shepherd
    task: merge when green
    depends_on: [review]
    requires_approval:
      approvers: [alice, bob, carol]
      timeout_seconds: 3600
      timeout_action: reject
`

func TestParse_ValidPipelineRoundTrips(t *testing.T) {
	def, err := Parse(samplePipeline)
	require.NoError(t, err)
	assert.Equal(t, "story-flow", def.Name)
	assert.Len(t, def.Stages, 3)
}

func TestValidate_RejectsDuplicateStageNames(t *testing.T) {
	def := models.PipelineDefinition{
		Name: "dup",
		Stages: []models.StageDefinition{
			{Name: "a"}, {Name: "a"},
		},
	}
	assert.Error(t, Validate(def))
}

func TestValidate_RejectsUnknownDependsOn(t *testing.T) {
	def := models.PipelineDefinition{
		Name: "bad-dep",
		Stages: []models.StageDefinition{
			{Name: "a", DependsOn: []string{"ghost"}},
		},
	}
	assert.Error(t, Validate(def))
}

func TestValidate_RejectsCycles(t *testing.T) {
	def := models.PipelineDefinition{
		Name: "cycle",
		Stages: []models.StageDefinition{
			{Name: "a", DependsOn: []string{"b"}},
			{Name: "b", DependsOn: []string{"a"}},
		},
	}
	assert.Error(t, Validate(def))
}

func TestValidate_RejectsRollbackWithoutTarget(t *testing.T) {
	def := models.PipelineDefinition{
		Name: "bad-rollback",
		Stages: []models.StageDefinition{
			{Name: "a", OnFailure: models.FailurePolicyRollback},
		},
	}
	assert.Error(t, Validate(def))
}

func TestTopologicalRounds_GroupsIndependentStagesTogether(t *testing.T) {
	def := models.PipelineDefinition{
		Name: "fanout",
		Stages: []models.StageDefinition{
			{Name: "a"},
			{Name: "b"},
			{Name: "c", DependsOn: []string{"a", "b"}},
		},
	}
	rounds, err := TopologicalRounds(def)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, rounds[0])
	assert.Equal(t, []string{"c"}, rounds[1])
}
