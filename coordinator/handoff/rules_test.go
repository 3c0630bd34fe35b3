package handoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/taskmesh/types"
	"go.uber.org/zap"
)

func codingToTesting(id string, priority int, triggers ...Trigger) Rule {
	return Rule{
		ID:              id,
		FromTypePattern: "coding",
		ToTypePattern:   "testing",
		Triggers:        triggers,
		Priority:        priority,
		Enabled:         true,
	}
}

func TestEngine_AddRuleValidation(t *testing.T) {
	e := NewEngine(zap.NewNop())

	err := e.AddRule(Rule{ID: "bad-from", FromTypePattern: "[", ToTypePattern: "testing"})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRulePattern, types.GetErrorCode(err))

	err = e.AddRule(Rule{ID: "bad-to", FromTypePattern: "coding", ToTypePattern: "("})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRulePattern, types.GetErrorCode(err))

	err = e.AddRule(codingToTesting("bad-cond", 1, Trigger{Condition: "moon_phase"}))
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownCondition, types.GetErrorCode(err))

	require.NoError(t, e.AddRule(codingToTesting("ok", 1,
		Trigger{Condition: "keyword", Operator: "contains", Threshold: "test"})))
	assert.Len(t, e.Rules(), 1)
}

func TestEngine_AddRuleReplacesByID(t *testing.T) {
	e := NewEngine(zap.NewNop())
	require.NoError(t, e.AddRule(codingToTesting("r1", 5,
		Trigger{Condition: "keyword", Threshold: "test"})))
	require.NoError(t, e.AddRule(codingToTesting("r1", 1,
		Trigger{Condition: "keyword", Threshold: "deploy"})))

	rules := e.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, 1, rules[0].Priority)
	assert.Equal(t, "deploy", rules[0].Triggers[0].Threshold)
}

func TestEngine_RemoveRule(t *testing.T) {
	e := NewEngine(zap.NewNop())
	require.NoError(t, e.AddRule(codingToTesting("r1", 1,
		Trigger{Condition: "keyword", Threshold: "test"})))

	e.RemoveRule("r1")
	assert.Empty(t, e.Rules())
	e.RemoveRule("r1")
}

func TestEngine_EvaluateFirstMatchByPriority(t *testing.T) {
	e := NewEngine(zap.NewNop())
	require.NoError(t, e.AddRule(codingToTesting("second", 10,
		Trigger{Condition: "keyword", Operator: "contains", Threshold: "test"})))
	first := codingToTesting("first", 1,
		Trigger{Condition: "keyword", Operator: "contains", Threshold: "test"})
	first.ToTypePattern = "review"
	require.NoError(t, e.AddRule(first))

	decision, fired := e.Evaluate(TaskInfo{
		Description:    "run the test suite",
		FromWorkerType: "coding",
	})
	require.True(t, fired)
	assert.Equal(t, "first", decision.RuleID)
	assert.True(t, decision.ToTypePattern.MatchString("review"))
}

func TestEngine_EvaluateFromTypeGate(t *testing.T) {
	e := NewEngine(zap.NewNop())
	require.NoError(t, e.AddRule(codingToTesting("r1", 1,
		Trigger{Condition: "keyword", Operator: "contains", Threshold: "test"})))

	_, fired := e.Evaluate(TaskInfo{Description: "test it", FromWorkerType: "planning"})
	assert.False(t, fired)

	_, fired = e.Evaluate(TaskInfo{Description: "nothing relevant", FromWorkerType: "coding"})
	assert.False(t, fired)
}

func TestEngine_DisabledRuleIsSkipped(t *testing.T) {
	e := NewEngine(zap.NewNop())
	rule := codingToTesting("r1", 1,
		Trigger{Condition: "keyword", Operator: "contains", Threshold: "test"})
	rule.Enabled = false
	require.NoError(t, e.AddRule(rule))

	_, fired := e.Evaluate(TaskInfo{Description: "test it", FromWorkerType: "coding"})
	assert.False(t, fired)
}

func TestConditionKeyword(t *testing.T) {
	info := TaskInfo{Description: "Deploy the service to STAGING"}

	assert.True(t, conditionKeyword(info, Trigger{Operator: "contains", Threshold: "staging"}))
	assert.False(t, conditionKeyword(info, Trigger{Operator: "contains", Threshold: "production"}))
	assert.True(t, conditionKeyword(info, Trigger{Operator: "not_contains", Threshold: "production"}))
	assert.False(t, conditionKeyword(info, Trigger{Operator: "contains", Threshold: ""}))
	assert.False(t, conditionKeyword(info, Trigger{Operator: "contains", Threshold: 42}))
}

func TestConditionStepCompleted(t *testing.T) {
	info := TaskInfo{CompletedSteps: map[string]bool{"code_review": true, "deploy": false}}

	assert.True(t, conditionStepCompleted(info, Trigger{Threshold: "code_review"}))
	assert.False(t, conditionStepCompleted(info, Trigger{Threshold: "deploy"}))
	assert.False(t, conditionStepCompleted(info, Trigger{Threshold: "missing"}))
	assert.False(t, conditionStepCompleted(info, Trigger{Threshold: 1}))
}

func TestConditionMetadataFlag(t *testing.T) {
	info := TaskInfo{Metadata: map[string]any{
		"escalate": true,
		"owner":    "alice",
		"retries":  0,
		"skip":     "false",
	}}

	assert.True(t, conditionMetadataFlag(info, Trigger{Operator: "exists", Threshold: "owner"}))
	assert.False(t, conditionMetadataFlag(info, Trigger{Operator: "exists", Threshold: "missing"}))
	assert.True(t, conditionMetadataFlag(info, Trigger{Operator: "eq", Threshold: "escalate"}))
	assert.True(t, conditionMetadataFlag(info, Trigger{Operator: "eq", Threshold: "owner"}))
	assert.False(t, conditionMetadataFlag(info, Trigger{Operator: "eq", Threshold: "skip"}))
	assert.False(t, conditionMetadataFlag(info, Trigger{Operator: "eq", Threshold: "retries"}))
}

func TestConditionHandoffCount(t *testing.T) {
	info := TaskInfo{HandoffCount: 2}

	assert.True(t, conditionHandoffCount(info, Trigger{Operator: "gt", Threshold: 1}))
	assert.False(t, conditionHandoffCount(info, Trigger{Operator: "gt", Threshold: 2}))
	assert.True(t, conditionHandoffCount(info, Trigger{Operator: "lt", Threshold: 3.0}))
	assert.True(t, conditionHandoffCount(info, Trigger{Operator: "eq", Threshold: int64(2)}))
	assert.False(t, conditionHandoffCount(info, Trigger{Operator: "ge", Threshold: 2}))
	assert.False(t, conditionHandoffCount(info, Trigger{Operator: "gt", Threshold: "two"}))
}

func TestEngine_RegisterConditionOverride(t *testing.T) {
	e := NewEngine(zap.NewNop())
	e.RegisterCondition("always", func(info TaskInfo, trig Trigger) bool { return true })

	require.NoError(t, e.AddRule(codingToTesting("r1", 1, Trigger{Condition: "always"})))
	decision, fired := e.Evaluate(TaskInfo{FromWorkerType: "coding"})
	require.True(t, fired)
	assert.Equal(t, "r1", decision.RuleID)
}
