package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/biostacklabs/reactorcore/internal/model"
	"github.com/biostacklabs/reactorcore/internal/store"
)

func TestNewRejectsDuplicateJobName(t *testing.T) {
	running := store.NewIntermittent().Cache("pio_jobs_running")

	j1, err := New(Config{Name: "stirring"}, nil, running, nil)
	require.NoError(t, err)
	require.NotNil(t, j1)

	_, err = New(Config{Name: "stirring"}, nil, running, nil)
	require.ErrorIs(t, err, ErrDuplicateJob)
}

func TestStartTransitionsToReady(t *testing.T) {
	j, err := New(Config{Name: "test_job"}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, model.StateInit, j.State())

	require.NoError(t, j.Start(context.Background()))
	require.Equal(t, model.StateReady, j.State())
}

func TestSetSettingRejectsNonSettable(t *testing.T) {
	j, err := New(Config{Name: "test_job"}, nil, nil, nil)
	require.NoError(t, err)

	value := "1.0"
	j.RegisterSetting("target_rpm", &Setting{
		DataType: "float",
		Settable: false,
		Get:      func() string { return value },
		Set:      func(v string) error { value = v; return nil },
	})

	err = j.SetSetting("target_rpm", "500")
	require.Error(t, err)
	require.Equal(t, "1.0", value)
}

func TestSetSettingAppliesSettableValue(t *testing.T) {
	j, err := New(Config{Name: "test_job"}, nil, nil, nil)
	require.NoError(t, err)

	value := "1.0"
	j.RegisterSetting("target_rpm", &Setting{
		DataType: "float",
		Settable: true,
		Get:      func() string { return value },
		Set:      func(v string) error { value = v; return nil },
	})

	require.NoError(t, j.SetSetting("target_rpm", "500"))
	require.Equal(t, "500", value)
}

func TestDisconnectReleasesJobsRunningGuard(t *testing.T) {
	running := store.NewIntermittent().Cache("pio_jobs_running")
	j, err := New(Config{Name: "stirring"}, nil, running, nil)
	require.NoError(t, err)

	var cleaned bool
	j.OnDisconnect(func() { cleaned = true })

	j.Disconnect(context.Background())
	require.True(t, cleaned)
	require.Equal(t, model.StateDisconnected, j.State())

	_, ok := running.Get("stirring")
	require.False(t, ok)

	j2, err := New(Config{Name: "stirring"}, nil, running, nil)
	require.NoError(t, err)
	require.NotNil(t, j2)
}
