package insight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/co2map/internal/models"
)

func f64(v float64) *float64 { return &v }

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name     string
		summary  Summary
		contains []string
		excludes []string
	}{
		{
			name: "both years",
			summary: Summary{
				Years:    []int{2019, 2023},
				Averages: models.YearAverage{2019: f64(409.25), 2023: f64(418.5)},
				Inside:   map[int]int{2019: 12, 2023: 7},
			},
			contains: []string{
				"- 2019: 409.2 ppm from 12 measurements",
				"- 2023: 418.5 ppm from 7 measurements",
				"Change from first to last year: +9.2 ppm.",
			},
		},
		{
			name: "missing year",
			summary: Summary{
				Years:    []int{2019, 2023},
				Averages: models.YearAverage{2019: f64(400), 2023: nil},
				Inside:   map[int]int{2019: 3},
			},
			contains: []string{"- 2019: 400.0 ppm from 3 measurements", "- 2023: no data"},
			excludes: []string{"Change from"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildPrompt(tt.summary)
			for _, s := range tt.contains {
				assert.Contains(t, got, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, got, s)
			}
		})
	}
}

func TestChange(t *testing.T) {
	d, ok := Change(Summary{Years: []int{2019, 2023}, Averages: models.YearAverage{2019: f64(400), 2023: f64(390)}})
	require.True(t, ok)
	assert.InDelta(t, -10.0, d, 1e-9)

	_, ok = Change(Summary{Years: []int{2019}, Averages: models.YearAverage{2019: f64(400)}})
	assert.False(t, ok)
}

func TestNewGeneratorDisabledWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewGenerator("", "", nil)
	assert.ErrorIs(t, err, ErrDisabled)

	g, err := NewGenerator("sk-test", "", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultModel, g.model)
}
