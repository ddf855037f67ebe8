package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"github.com/biostacklabs/reactorcore/internal/hardware"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func newTestChecker(t *testing.T) *SelfChecker {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "proc", "meminfo"), "MemTotal: 1000 kB\nMemAvailable: 200 kB\n")
	writeFile(t, filepath.Join(root, "proc", "loadavg"), "0.50 0.40 0.30 1/200 1234\n")
	writeFile(t, filepath.Join(root, "sys", "class", "thermal", "thermal_zone0", "temp"), "45000\n")

	return &SelfChecker{
		ProcRoot:             filepath.Join(root, "proc"),
		SysRoot:              filepath.Join(root, "sys"),
		CheckLeaderReachable: func() bool { return true },
		CheckPowerThrottled:  func() bool { return false },
	}
}

func TestSelfCheckerReportsParsedValues(t *testing.T) {
	c := newTestChecker(t)
	r := c.Run()

	require.Equal(t, 80.0, r.MemoryUsedPct)
	require.Equal(t, 45.0, r.CPUTemperatureC)
	require.True(t, r.LeaderReachable)
	require.False(t, r.PowerThrottled)
}

func TestSelfCheckerWarnsPastThresholds(t *testing.T) {
	c := newTestChecker(t)
	writeFile(t, filepath.Join(c.ProcRoot, "meminfo"), "MemTotal: 1000 kB\nMemAvailable: 50 kB\n")
	c.CheckLeaderReachable = func() bool { return false }
	c.CheckPowerThrottled = func() bool { return true }

	r := c.Run()
	require.Contains(t, r.Warnings, "memory usage above warning threshold")
	require.Contains(t, r.Warnings, "leader unreachable")
	require.Contains(t, r.Warnings, "power throttling detected")
}

func TestDiskAlmostFullThreshold(t *testing.T) {
	require.False(t, SelfCheckReport{DiskUsedPct: 94}.DiskAlmostFull())
	require.True(t, SelfCheckReport{DiskUsedPct: 95}.DiskAlmostFull())
}

type fakeRunner struct {
	name string
	args []string
}

func (f *fakeRunner) Start(ctx context.Context, name string, args ...string) error {
	f.name = name
	f.args = args
	return nil
}

func TestLauncherBuildsSortedFlags(t *testing.T) {
	runner := &fakeRunner{}
	l := NewLauncher(runner)

	payload := []byte(`{"binary":"/usr/bin/reactorctl","args":{"target_rpm":"400","skip_first_run":"true"}}`)
	require.NoError(t, l.Launch(context.Background(), "stirring", payload))

	require.Equal(t, "/usr/bin/reactorctl", runner.name)
	require.Equal(t, []string{"stirring", "--skip_first_run", "true", "--target_rpm", "400"}, runner.args)
}

func TestLauncherRejectsMissingBinary(t *testing.T) {
	l := NewLauncher(&fakeRunner{})
	err := l.Launch(context.Background(), "stirring", []byte(`{"args":{}}`))
	require.Error(t, err)
}

func TestErrorBlinkerClearAfterSignalLeavesLEDOff(t *testing.T) {
	led := hardware.NewSimGPIOPin(0)
	b := NewErrorBlinker(led)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.Signal(ctx, 2)
	time.Sleep(50 * time.Millisecond)
	b.Clear(2)

	require.Equal(t, gpio.Low, led.Read())
}

func TestErrorBlinkerClearTurnsLEDOff(t *testing.T) {
	led := hardware.NewSimGPIOPin(0)
	b := NewErrorBlinker(led)
	_ = led.SetOutput(gpio.High)

	b.Clear(3)
	require.Equal(t, gpio.Low, led.Read())
}

func TestButtonHandlerRunReturnsAfterStop(t *testing.T) {
	button := hardware.NewSimGPIOPin(5 * time.Millisecond)
	button.PulseCount = 1
	led := hardware.NewSimGPIOPin(0)

	h := NewButtonHandler(button, led, nil, 20*time.Millisecond)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		h.Run(context.Background(), stop)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("button handler did not return after stop closed")
	}
}

func TestJobFromStateTopicExtractsJobName(t *testing.T) {
	require.Equal(t, "stirring", jobFromStateTopic("pioreactor/unit1/exp1/stirring/$state"))
	require.Equal(t, "", jobFromStateTopic("pioreactor/unit1/exp1/stirring/target_rpm"))
}

func TestJobFromRunTopicExtractsJobName(t *testing.T) {
	require.Equal(t, "stirring", jobFromRunTopic("pioreactor/unit1/$experiment/run/stirring"))
}
