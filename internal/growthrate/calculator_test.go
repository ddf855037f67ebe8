package growthrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biostacklabs/reactorcore/internal/model"
)

func TestConstantODDrivesRateTowardZero(t *testing.T) {
	medians := map[string]float64{"135/A": 1.0}
	variances := map[string]float64{"135/A": 1.0}
	c, err := New([]string{"135/A"}, medians, variances, map[string]float64{"135/A": 1.0}, 1.0, time.Second)
	require.NoError(t, err)

	var rate float64
	for i := 0; i < 300; i++ {
		batch := model.NewODBatch(time.Now())
		batch.Readings["135/A"] = model.ODReading{OD: 1.0, Angle: model.Angle135}
		_, rate, err = c.Update(batch)
		require.NoError(t, err)
	}
	require.InDelta(t, 0.0, rate, 0.1)
}

func TestNonTransmissionLabelsDrops180(t *testing.T) {
	labels := NonTransmissionLabels(map[string]model.ScatterAngle{
		"135/A": model.Angle135,
		"180/A": model.Angle180,
		"90/B":  model.Angle90,
	})
	require.ElementsMatch(t, []string{"135/A", "90/B"}, labels)
}

func TestOnDosingEventInflatesVariance(t *testing.T) {
	medians := map[string]float64{"135/A": 1.0}
	variances := map[string]float64{"135/A": 1.0}
	c, err := New([]string{"135/A"}, medians, variances, map[string]float64{"135/A": 1.0}, 0.0, time.Second)
	require.NoError(t, err)

	_, cov := c.ekf.Predict()
	before := cov.At(0, 0)

	c.OnDosingEvent()
	_, covAfter := c.ekf.Predict()
	require.Greater(t, covAfter.At(0, 0), before)
}
