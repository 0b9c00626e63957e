package measure

import (
	"context"
	"testing"

	"drpactor/internal/model"
	"drpactor/pkg/config"
	"drpactor/pkg/drpcmd"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFluxes(t *testing.T) {
	fluxes, err := ParseFluxes([]string{"fiberId,flux", "INFO loading", "1,10.5", "2, 3"})
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1: 10.5, 2: 3}, fluxes)

	_, err = ParseFluxes([]string{"fiberId,flux"})
	assert.Error(t, err)

	_, err = ParseFluxes([]string{"1,abc"})
	assert.Error(t, err)
}

func TestCommandMeasurer_SumsExposures(t *testing.T) {
	runner := drpcmd.NewRunnerWithExec(func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
		return []byte("fiberId,flux\n1,10\n2,20\n"), 0, nil
	})
	m := NewCommandMeasurer("measureFiberFlux.py", config.RepoConfig{Root: "/work/drp"}, runner)

	fluxes, err := m.Measure(context.Background(), []model.ExposureRef{
		{DataID: model.DataID{Visit: 1, Arm: "b", Spectrograph: 1}},
		{DataID: model.DataID{Visit: 1, Arm: "r", Spectrograph: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1: 20, 2: 40}, fluxes)

	_, err = m.Measure(context.Background(), nil)
	assert.Error(t, err)
}
