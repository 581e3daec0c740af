package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

func TestCommandIRKey(t *testing.T) {
	testCases := []struct {
		name string
		cmd  Command
		key  string
	}{
		{"power off", Command{Power: boolPtr(false)}, "off"},
		{"power off ignores mode and temp", Command{Power: boolPtr(false), Mode: "cool", Temp: intPtr(26)}, "off"},
		{"mode and temp", Command{Power: boolPtr(true), Mode: "cool", Temp: intPtr(26)}, "cool_26"},
		{"mode without temp", Command{Mode: "cool"}, ""},
		{"temp without mode", Command{Temp: intPtr(26)}, ""},
		{"empty command", Command{}, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.key, tc.cmd.IRKey())
		})
	}
}

func TestRoutineKind(t *testing.T) {
	schedule := Routine{Cron: "0 7 * * *"}
	assert.Equal(t, RoutineKindSchedule, schedule.Kind())

	automation := Routine{Triggers: []Trigger{{Type: "temp", Operator: ">", Value: []byte("28")}}}
	assert.Equal(t, RoutineKindAutomation, automation.Kind())

	// A cron routine that also carries triggers counts as an automation.
	both := Routine{Cron: "0 7 * * *", Triggers: automation.Triggers}
	assert.Equal(t, RoutineKindAutomation, both.Kind())
}

func TestTriggerValueRoundTrip(t *testing.T) {
	// Thresholds survive as-is whether clients send numbers or strings.
	var numeric, stringy Trigger
	require.NoError(t, json.Unmarshal([]byte(`{"type":"temp","op":">","val":28}`), &numeric))
	require.NoError(t, json.Unmarshal([]byte(`{"type":"temp","op":">","val":"28"}`), &stringy))

	assert.Equal(t, json.RawMessage("28"), numeric.Value)
	assert.Equal(t, json.RawMessage(`"28"`), stringy.Value)
}

func TestCommandOmitsUnsetFields(t *testing.T) {
	b, err := json.Marshal(Command{Mode: "cool", Temp: intPtr(26)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"cool","temp":26}`, string(b))
}
