package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec(id string) MetricSpec {
	return MetricSpec{
		ID:          id,
		Rationale:   "shows progression",
		ComputeHint: "gpa per term",
		ChartType:   ChartLine,
		Produces:    ProducesChart,
	}
}

func TestMetricPlan_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		plan := MetricPlan{Metrics: []MetricSpec{validSpec("gpa_trend"), validSpec("major_vs_overall")}}
		require.NoError(t, plan.Validate())
	})

	t.Run("empty", func(t *testing.T) {
		plan := MetricPlan{}
		assert.Error(t, plan.Validate())
	})

	t.Run("duplicate ids", func(t *testing.T) {
		plan := MetricPlan{Metrics: []MetricSpec{validSpec("a"), validSpec("a")}}
		err := plan.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unique")
	})

	t.Run("ids collide after sanitizing", func(t *testing.T) {
		plan := MetricPlan{Metrics: []MetricSpec{validSpec("gpa-trend"), validSpec("gpa_trend")}}
		err := plan.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"gpa-trend" and "gpa_trend" both map to "gpa_trend"`)
	})

	t.Run("bad chart type", func(t *testing.T) {
		spec := validSpec("a")
		spec.ChartType = "donut"
		plan := MetricPlan{Metrics: []MetricSpec{spec}}
		err := plan.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ChartType")
	})

	t.Run("missing hint", func(t *testing.T) {
		spec := validSpec("a")
		spec.ComputeHint = ""
		plan := MetricPlan{Metrics: []MetricSpec{spec}}
		assert.Error(t, plan.Validate())
	})
}

func TestMetricSpec_WithDefaults(t *testing.T) {
	spec := MetricSpec{ID: "x"}.WithDefaults()
	assert.Equal(t, ChartNone, spec.ChartType)
	assert.Equal(t, ProducesMetric, spec.Produces)
	assert.Equal(t, ExtractionSemantic, spec.ExtractionMode)
	assert.False(t, spec.WantsChart())

	spec.ChartType = ChartPie
	assert.True(t, spec.WantsChart())
}
