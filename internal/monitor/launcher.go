package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"syscall"
)

// CommandRunner abstracts external process execution, grounded in the
// teacher's collector.CommandRunner — here used to launch a detached job
// process rather than sample an external tool's output.
type CommandRunner interface {
	Start(ctx context.Context, name string, args ...string) error
}

// ExecCommandRunner starts commands via os/exec, detached from the
// monitor's own process group so a monitor restart doesn't kill running
// jobs.
type ExecCommandRunner struct{}

func (ExecCommandRunner) Start(ctx context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd.Start()
}

// RunRequest is the JSON payload spec.md §6 names for
// "<ns>/<unit>/<UNIVERSAL_EXP>/run/<job>": CLI-style kwargs to launch a
// job, plus the job binary to invoke.
type RunRequest struct {
	Binary string            `json:"binary"`
	Args   map[string]string `json:"args"`
}

// Launcher spawns job processes on request, in the background, detached.
type Launcher struct {
	runner CommandRunner
}

func NewLauncher(runner CommandRunner) *Launcher {
	if runner == nil {
		runner = ExecCommandRunner{}
	}
	return &Launcher{runner: runner}
}

// Launch decodes payload as a RunRequest and starts the job's binary
// with its args rendered as "--key value" flags, sorted for determinism.
func (l *Launcher) Launch(ctx context.Context, job string, payload []byte) error {
	var req RunRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("monitor: decode run request for %q: %w", job, err)
	}
	if req.Binary == "" {
		return fmt.Errorf("monitor: run request for %q missing binary", job)
	}

	keys := make([]string, 0, len(req.Args))
	for k := range req.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)*2+1)
	args = append(args, job)
	for _, k := range keys {
		args = append(args, "--"+k, req.Args[k])
	}
	return l.runner.Start(ctx, req.Binary, args...)
}
