package handoff

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/taskmesh/taskmesh/types"
	"go.uber.org/zap"
)

// TaskInfo is the engine's read-only view of a task at evaluation time. The
// coordinator builds it from the live task record; the engine never touches
// shared state.
type TaskInfo struct {
	TaskID         string
	Description    string
	Metadata       map[string]any
	CompletedSteps map[string]bool
	HandoffCount   int
	// FromWorkerType is the declared type of the worker the task is on, or
	// is about to be committed to.
	FromWorkerType string
}

// Trigger is one condition of a rule. A rule fires when at least one of its
// triggers evaluates true.
type Trigger struct {
	// Condition names a registered predicate, e.g. "keyword",
	// "step_completed", "metadata_flag", "handoff_count".
	Condition string `yaml:"condition" json:"condition"`
	// Operator compares the looked-up value to the threshold: "contains",
	// "eq", "gt", "lt", "exists".
	Operator string `yaml:"operator" json:"operator"`
	// Threshold is the comparison operand.
	Threshold any `yaml:"threshold" json:"threshold"`
}

// Rule routes tasks from workers of one type to workers of another. Rules
// are evaluated in ascending Priority; the first satisfied rule wins.
type Rule struct {
	ID              string    `yaml:"id" json:"id"`
	FromTypePattern string    `yaml:"from_type_pattern" json:"from_type_pattern"`
	ToTypePattern   string    `yaml:"to_type_pattern" json:"to_type_pattern"`
	Triggers        []Trigger `yaml:"triggers" json:"triggers"`
	Priority        int       `yaml:"priority" json:"priority"`
	Enabled         bool      `yaml:"enabled" json:"enabled"`

	fromRe *regexp.Regexp
	toRe   *regexp.Regexp
}

// Decision is the outcome of a fired rule.
type Decision struct {
	RuleID string
	// ToTypePattern selects the target worker type; a concrete worker is
	// located by the coordinator via capability matching.
	ToTypePattern *regexp.Regexp
	Reason        string
}

// Condition is a pluggable predicate evaluated against a task. The built-in
// conditions are heuristic (keyword scans of the task description) and
// replaceable via RegisterCondition.
type Condition func(info TaskInfo, trig Trigger) bool

// Engine is the declarative handoff rule engine.
type Engine struct {
	mu         sync.RWMutex
	rules      []Rule
	conditions map[string]Condition
	logger     *zap.Logger
}

// NewEngine creates an engine with the built-in condition set registered.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		conditions: make(map[string]Condition),
		logger:     logger.With(zap.String("component", "handoff_engine")),
	}
	e.conditions["keyword"] = conditionKeyword
	e.conditions["step_completed"] = conditionStepCompleted
	e.conditions["metadata_flag"] = conditionMetadataFlag
	e.conditions["handoff_count"] = conditionHandoffCount
	return e
}

// RegisterCondition installs or replaces a named condition predicate.
func (e *Engine) RegisterCondition(name string, cond Condition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conditions[name] = cond
}

// AddRule validates and installs a rule. Patterns are compiled here so an
// invalid pattern is rejected at registration time, not at evaluation time.
func (e *Engine) AddRule(rule Rule) error {
	fromRe, err := regexp.Compile(rule.FromTypePattern)
	if err != nil {
		return types.NewError(types.ErrInvalidRulePattern, "from pattern: "+rule.FromTypePattern).WithCause(err)
	}
	toRe, err := regexp.Compile(rule.ToTypePattern)
	if err != nil {
		return types.NewError(types.ErrInvalidRulePattern, "to pattern: "+rule.ToTypePattern).WithCause(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, trig := range rule.Triggers {
		if _, ok := e.conditions[trig.Condition]; !ok {
			return types.NewError(types.ErrUnknownCondition, trig.Condition)
		}
	}
	rule.fromRe = fromRe
	rule.toRe = toRe

	replaced := false
	for i := range e.rules {
		if e.rules[i].ID == rule.ID {
			e.rules[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		e.rules = append(e.rules, rule)
	}
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority < e.rules[j].Priority
	})

	e.logger.Info("handoff rule installed",
		zap.String("rule_id", rule.ID),
		zap.String("from", rule.FromTypePattern),
		zap.String("to", rule.ToTypePattern),
		zap.Int("priority", rule.Priority),
	)
	return nil
}

// RemoveRule deletes a rule by id.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return
		}
	}
}

// Rules returns the installed rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Evaluate walks enabled rules in ascending priority. A rule fires when the
// originating worker's type matches its from-pattern and at least one
// trigger holds; the first firing rule wins, independent of later rules.
func (e *Engine) Evaluate(info TaskInfo) (Decision, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if !rule.fromRe.MatchString(info.FromWorkerType) {
			continue
		}
		for _, trig := range rule.Triggers {
			cond, ok := e.conditions[trig.Condition]
			if !ok {
				continue
			}
			if cond(info, trig) {
				e.logger.Debug("handoff rule fired",
					zap.String("rule_id", rule.ID),
					zap.String("task_id", info.TaskID),
					zap.String("condition", trig.Condition),
				)
				return Decision{
					RuleID:        rule.ID,
					ToTypePattern: rule.toRe,
					Reason:        "rule " + rule.ID + ": " + trig.Condition,
				}, true
			}
		}
	}
	return Decision{}, false
}

// conditionKeyword scans the task description for a keyword threshold,
// case-insensitively. Domain terms such as "test", "deploy", or "plan" are
// the intended use.
func conditionKeyword(info TaskInfo, trig Trigger) bool {
	keyword, ok := trig.Threshold.(string)
	if !ok || keyword == "" {
		return false
	}
	found := strings.Contains(strings.ToLower(info.Description), strings.ToLower(keyword))
	if trig.Operator == "not_contains" {
		return !found
	}
	return found
}

// conditionStepCompleted checks a prior-step completion flag.
func conditionStepCompleted(info TaskInfo, trig Trigger) bool {
	step, ok := trig.Threshold.(string)
	if !ok {
		return false
	}
	return info.CompletedSteps[step]
}

// conditionMetadataFlag checks an explicit metadata flag. With operator
// "exists" the key's presence suffices; with "eq" the value must equal true
// or the string threshold.
func conditionMetadataFlag(info TaskInfo, trig Trigger) bool {
	key, ok := trig.Threshold.(string)
	if !ok {
		return false
	}
	val, present := info.Metadata[key]
	if trig.Operator == "exists" {
		return present
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return v != "" && !strings.EqualFold(v, "false")
	default:
		return false
	}
}

// conditionHandoffCount compares the task's handoff count numerically.
func conditionHandoffCount(info TaskInfo, trig Trigger) bool {
	threshold, ok := toFloat(trig.Threshold)
	if !ok {
		return false
	}
	count := float64(info.HandoffCount)
	switch trig.Operator {
	case "gt":
		return count > threshold
	case "lt":
		return count < threshold
	case "eq":
		return count == threshold
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
