package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/merge"
	"github.com/roach88/kmeval/internal/metrics"
	"github.com/roach88/kmeval/internal/stats"
	"github.com/roach88/kmeval/internal/testutil"
)

// Scenario defines an end-to-end evaluation scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Tolerance and SignificanceLevel override the evaluation defaults.
	Tolerance         float64 `yaml:"tolerance,omitempty"`
	SignificanceLevel float64 `yaml:"significance_level,omitempty"`

	Tasks        []TaskRow     `yaml:"tasks"`
	Participants []Participant `yaml:"participants"`

	// Assertions validate the run report.
	Assertions []Assertion `yaml:"assertions"`
}

// TaskRow is one row of task metadata.
type TaskRow struct {
	ID           string   `yaml:"id"`
	OptimalTime  float64  `yaml:"optimal_time"`
	MaximumScore float64  `yaml:"maximum_score"`
	PassingScore *float64 `yaml:"passing_score,omitempty"`
}

// Participant is one subject performing one task under one condition.
type Participant struct {
	Subject   string  `yaml:"subject"`
	Task      string  `yaml:"task"`
	Condition string  `yaml:"condition"`
	Total     float64 `yaml:"total"`
	Pull      float64 `yaml:"pull,omitempty"`
	Push      float64 `yaml:"push,omitempty"`
	Grade     float64 `yaml:"grade"`
	Timeout   bool    `yaml:"timeout,omitempty"`

	// Steps is the event log. No steps means no log was collected.
	Steps []Step `yaml:"steps,omitempty"`
}

// Step is one visit to a state, held for Seconds before the next event.
type Step struct {
	State   string  `yaml:"state"`
	Seconds float64 `yaml:"seconds,omitempty"`
}

// Assertion validates one aspect of the run report.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Task selects the task (metric, test).
	Task string `yaml:"task,omitempty"`

	// Metric is a metric name (metric), test name (test) or omitted
	// computation (omission).
	Metric string `yaml:"metric,omitempty"`

	// Value is the expected metric value, compared within Within.
	Value  *float64 `yaml:"value,omitempty"`
	Within float64  `yaml:"within,omitempty"`

	// Significant is the expected test verdict.
	Significant *bool `yaml:"significant,omitempty"`

	// Omitted expects the metric or test to have no value.
	Omitted bool `yaml:"omitted,omitempty"`

	// Key is a subject-task in subject_condition_task form (validation_error,
	// warning), or the subject of an omission.
	Key   string `yaml:"key,omitempty"`
	Scope string `yaml:"scope,omitempty"`
	Code  string `yaml:"code,omitempty"`
	Field string `yaml:"field,omitempty"`

	// Section and Count are used by count.
	Section string `yaml:"section,omitempty"`
	Count   int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertMetric          = "metric"
	AssertTest            = "test"
	AssertOmission        = "omission"
	AssertValidationError = "validation_error"
	AssertWarning         = "warning"
	AssertCount           = "count"
)

// Report sections accepted by count assertions.
const (
	SectionTasks            = "tasks"
	SectionConflicts        = "conflicts"
	SectionValidationErrors = "validation_errors"
	SectionWarnings         = "warnings"
	SectionOmissions        = "omissions"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Participants) == 0 {
		return fmt.Errorf("participants list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, task := range s.Tasks {
		if task.ID == "" {
			return fmt.Errorf("tasks[%d]: id is required", i)
		}
	}

	for i, p := range s.Participants {
		if p.Subject == "" || p.Task == "" {
			return fmt.Errorf("participants[%d]: subject and task are required", i)
		}
		if !ir.Condition(p.Condition).Valid() {
			return fmt.Errorf("participants[%d]: condition must be prototype or baseline, got %q", i, p.Condition)
		}
		for j, step := range p.Steps {
			if step.State == "" {
				return fmt.Errorf("participants[%d].steps[%d]: state is required", i, j)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertMetric:
		if a.Task == "" || a.Metric == "" {
			return fmt.Errorf("assertions[%d]: task and metric are required for metric", index)
		}
		if !slices.Contains(metricNames, a.Metric) {
			return fmt.Errorf("assertions[%d]: unknown metric %q", index, a.Metric)
		}
		if (a.Value == nil) == !a.Omitted {
			return fmt.Errorf("assertions[%d]: metric needs exactly one of value or omitted", index)
		}
	case AssertTest:
		if a.Task == "" {
			return fmt.Errorf("assertions[%d]: task is required for test", index)
		}
		if a.Metric != stats.NameWelch && a.Metric != stats.NameMannWhitneyU {
			return fmt.Errorf("assertions[%d]: metric must be %s or %s for test", index, stats.NameWelch, stats.NameMannWhitneyU)
		}
		if (a.Significant == nil) == !a.Omitted {
			return fmt.Errorf("assertions[%d]: test needs exactly one of significant or omitted", index)
		}
	case AssertOmission:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for omission", index)
		}
	case AssertValidationError:
		if a.Key == "" || a.Code == "" {
			return fmt.Errorf("assertions[%d]: key and code are required for validation_error", index)
		}
	case AssertWarning:
		if a.Key == "" || a.Field == "" {
			return fmt.Errorf("assertions[%d]: key and field are required for warning", index)
		}
	case AssertCount:
		switch a.Section {
		case SectionTasks, SectionConflicts, SectionValidationErrors, SectionWarnings, SectionOmissions:
		default:
			return fmt.Errorf("assertions[%d]: unknown section %q for count", index, a.Section)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

// Dataset builds the raw inputs and task metadata the scenario describes.
// Every participant contributes an outcome record; those with steps also
// contribute an event log starting at testutil.Epoch.
func (s *Scenario) Dataset() (merge.Input, map[ir.ID]ir.TaskMetadata) {
	var in merge.Input
	for _, p := range s.Participants {
		cond := ir.Condition(p.Condition)
		source := fmt.Sprintf("%s_%s_%s", p.Subject, p.Condition, p.Task)

		b := testutil.Outcome(p.Subject, p.Task, cond).
			Times(p.Total, p.Pull, p.Push).
			Grade(p.Grade).
			Source(source + ".json")
		if p.Timeout {
			b.Timeout()
		}
		in.Outcomes = append(in.Outcomes, b.Build())

		if len(p.Steps) == 0 {
			continue
		}
		key := ir.Key{Subject: ir.ID(p.Subject), Task: ir.ID(p.Task), Condition: cond}
		steps := make([]testutil.Step, len(p.Steps))
		for i, st := range p.Steps {
			steps[i] = testutil.Step{State: ir.StateID(st.State), Seconds: st.Seconds}
		}
		in.EventLogs = append(in.EventLogs, testutil.Log(key, source+".jsonl", testutil.Events(key, steps...)))
	}

	meta := make(map[ir.ID]ir.TaskMetadata, len(s.Tasks))
	for _, t := range s.Tasks {
		meta[ir.ID(t.ID)] = ir.TaskMetadata{
			TaskID:       ir.ID(t.ID),
			OptimalTime:  t.OptimalTime,
			MaximumScore: t.MaximumScore,
			PassingScore: t.PassingScore,
		}
	}
	return in, meta
}

// metricNames are the metric assertion targets.
var metricNames = []string{
	metrics.MetricKMTimeReduction,
	metrics.MetricOptimalTimeProximity,
	metrics.MetricFailureRateReduction,
	metrics.MetricProductivityGain,
	metrics.MetricBinarizedFailureRate,
}
