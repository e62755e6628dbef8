package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/listsync/internal/model"
)

// Scenario is a scripted collaboration session.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// List is created before the flow runs.
	List ListFixture `yaml:"list"`

	// Users are written to the user directory before the flow runs.
	Users []UserFixture `yaml:"users,omitempty"`

	// Window overrides the resolver's recency window (Go duration syntax).
	// "0" compares against the whole history.
	Window string `yaml:"window,omitempty"`

	// Flow is executed in order against one coordinator.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state and the trace.
	Assertions []Assertion `yaml:"assertions"`
}

// ListFixture describes the list under test.
type ListFixture struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title"`
	Owner   string   `yaml:"owner"`
	Members []string `yaml:"members,omitempty"`
}

// UserFixture is a user directory entry.
type UserFixture struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Step is one flow step. Exactly one of Join, Leave, Submit or Advance is set.
type Step struct {
	Join    *JoinStep   `yaml:"join,omitempty"`
	Leave   *LeaveStep  `yaml:"leave,omitempty"`
	Submit  *SubmitStep `yaml:"submit,omitempty"`
	Advance int64       `yaml:"advance,omitempty"`

	// Expect lists the expected results: one entry for a join or leave, one
	// per operation for a submit. Omitted means not checked.
	Expect []Expect `yaml:"expect,omitempty"`
}

// JoinStep enters the room.
type JoinStep struct {
	User   string `yaml:"user"`
	Name   string `yaml:"name,omitempty"`
	Client string `yaml:"client"`
}

// LeaveStep removes a user from the room.
type LeaveStep struct {
	User string `yaml:"user"`
}

// SubmitStep sends operations from one client in one batch.
type SubmitStep struct {
	Client string `yaml:"client"`

	// Operations are in wire form; see model.Operation's JSON tags.
	Operations []map[string]any `yaml:"operations"`
}

// Expect is the expected result of a step.
type Expect struct {
	// Status is an outcome status for operations, or "ok"/"error" for joins
	// and leaves. Empty means not checked.
	Status string `yaml:"status,omitempty"`

	// Kind is the expected error kind.
	Kind string `yaml:"kind,omitempty"`

	// Reason must be contained in the cancellation reason.
	Reason string `yaml:"reason,omitempty"`
}

// ProductExpect is an expected list entry.
type ProductExpect struct {
	Product string `yaml:"product"`
	Units   int64  `yaml:"units"`
}

// Assertion validates the final state or the trace.
type Assertion struct {
	Type string `yaml:"type"`

	// final_products
	Products []ProductExpect `yaml:"products,omitempty"`

	// final_title
	Title string `yaml:"title,omitempty"`

	// edit_log
	Actions []string `yaml:"actions,omitempty"`

	// outcome_count and operation_status
	Status      string `yaml:"status,omitempty"`
	Count       *int   `yaml:"count,omitempty"`
	Client      string `yaml:"client,omitempty"`
	OperationID string `yaml:"operation_id,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalProducts   = "final_products"
	AssertFinalTitle      = "final_title"
	AssertEditLog         = "edit_log"
	AssertOutcomeCount    = "outcome_count"
	AssertOperationStatus = "operation_status"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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

// window returns the configured recency window, if any.
func (s *Scenario) window() (time.Duration, bool, error) {
	if s.Window == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(s.Window)
	if err != nil {
		return 0, false, err
	}
	return d, true, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.List.ID == "" || s.List.Title == "" || s.List.Owner == "" {
		return fmt.Errorf("list requires id, title and owner")
	}
	if _, _, err := s.window(); err != nil {
		return fmt.Errorf("window: %w", err)
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	set := 0
	if step.Join != nil {
		set++
		if step.Join.User == "" || step.Join.Client == "" {
			return fmt.Errorf("flow[%d].join: user and client are required", index)
		}
	}
	if step.Leave != nil {
		set++
		if step.Leave.User == "" {
			return fmt.Errorf("flow[%d].leave: user is required", index)
		}
	}
	if step.Submit != nil {
		set++
		if step.Submit.Client == "" {
			return fmt.Errorf("flow[%d].submit: client is required", index)
		}
		if len(step.Submit.Operations) == 0 {
			return fmt.Errorf("flow[%d].submit: operations must be non-empty", index)
		}
		if _, err := step.Submit.decode(); err != nil {
			return fmt.Errorf("flow[%d].submit: %w", index, err)
		}
		if len(step.Expect) > 0 && len(step.Expect) != len(step.Submit.Operations) {
			return fmt.Errorf("flow[%d]: expect has %d entries for %d operations", index, len(step.Expect), len(step.Submit.Operations))
		}
	}
	if step.Advance != 0 {
		set++
		if step.Advance < 0 {
			return fmt.Errorf("flow[%d].advance must be positive", index)
		}
	}
	if set != 1 {
		return fmt.Errorf("flow[%d]: exactly one of join, leave, submit or advance is required", index)
	}
	if (step.Join != nil || step.Leave != nil) && len(step.Expect) > 1 {
		return fmt.Errorf("flow[%d]: expect takes at most one entry", index)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertFinalProducts:
		// An empty products list asserts an empty list.
	case AssertFinalTitle:
		if a.Title == "" {
			return fmt.Errorf("assertions[%d]: title is required for final_title", index)
		}
	case AssertEditLog:
		// An empty actions list asserts an empty log.
	case AssertOutcomeCount:
		if a.Status == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: status and count are required for outcome_count", index)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertOperationStatus:
		if a.Client == "" || a.OperationID == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: client, operation_id and status are required for operation_status", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// decode converts the YAML operations to model operations through their
// JSON wire form, so scenarios use the same field names clients send.
func (s *SubmitStep) decode() ([]model.Operation, error) {
	ops := make([]model.Operation, len(s.Operations))
	for i, raw := range s.Operations {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("operations[%d]: %w", i, err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&ops[i]); err != nil {
			return nil, fmt.Errorf("operations[%d]: %w", i, err)
		}
		if ops[i].ClientID == "" {
			ops[i].ClientID = s.Client
		}
	}
	return ops, nil
}
