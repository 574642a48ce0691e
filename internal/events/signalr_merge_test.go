package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalRAccumulator_DeepMergeScalarReplace(t *testing.T) {
	acc := NewSignalRAccumulator()

	merged := acc.Merge("WeatherData", map[string]any{"AirTemp": "20"})
	assert.Equal(t, "20", merged["AirTemp"])

	merged = acc.Merge("WeatherData", map[string]any{"AirTemp": "21"})
	assert.Equal(t, "21", merged["AirTemp"], "scalar must replace, not merge")
}

func TestSignalRAccumulator_DeepMergeRecursesIntoMaps(t *testing.T) {
	acc := NewSignalRAccumulator()

	acc.Merge("TimingData", map[string]any{
		"Lines": map[string]any{
			"44": map[string]any{"Position": "3", "InPit": false},
		},
	})
	merged := acc.Merge("TimingData", map[string]any{
		"Lines": map[string]any{
			"44": map[string]any{"InPit": true},
		},
	})

	line := merged["Lines"].(map[string]any)["44"].(map[string]any)
	assert.Equal(t, "3", line["Position"], "unrelated nested field must survive the partial merge")
	assert.Equal(t, true, line["InPit"], "updated nested field must take the new value")
}

func TestSignalRAccumulator_ArrayReplaces(t *testing.T) {
	acc := NewSignalRAccumulator()
	acc.Merge("SessionData", map[string]any{"Series": []any{1, 2, 3}})
	merged := acc.Merge("SessionData", map[string]any{"Series": []any{9}})
	assert.Equal(t, []any{9}, merged["Series"])
}

func TestSignalRAccumulator_TopicsIsolated(t *testing.T) {
	acc := NewSignalRAccumulator()
	acc.Merge("WeatherData", map[string]any{"AirTemp": "20"})
	acc.Merge("TrackStatus", map[string]any{"Status": "1"})

	w := acc.Merge("WeatherData", map[string]any{})
	assert.Equal(t, "20", w["AirTemp"])
}

func TestSignalRAccumulator_ResultIsACopy(t *testing.T) {
	acc := NewSignalRAccumulator()
	merged := acc.Merge("WeatherData", map[string]any{"AirTemp": "20"})
	merged["AirTemp"] = "mutated"

	fresh := acc.Merge("WeatherData", map[string]any{})
	assert.Equal(t, "20", fresh["AirTemp"], "caller mutation of returned map must not leak into accumulator state")
}
