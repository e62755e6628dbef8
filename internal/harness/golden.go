package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/listsync/internal/model"
)

// TraceSnapshot captures a scenario run for golden comparison.
type TraceSnapshot struct {
	ScenarioName string         `json:"scenario_name"`
	Trace        []TraceEvent   `json:"trace"`
	Final        model.Snapshot `json:"final"`
	EditLog      []string       `json:"edit_log"`
}

// Snapshot builds the golden snapshot of a result.
func Snapshot(name string, result *Result) TraceSnapshot {
	actions := make([]string, len(result.State.EditLog))
	for i, e := range result.State.EditLog {
		actions[i] = e.Action
	}
	return TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Final:        result.State.Snapshot(),
		EditLog:      actions,
	}
}

// MarshalSnapshot encodes a snapshot as canonical JSON.
func MarshalSnapshot(s TraceSnapshot) ([]byte, error) {
	return model.MarshalCanonical(s)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(Snapshot(scenarioName, result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
