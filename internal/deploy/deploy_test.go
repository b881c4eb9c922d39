package deploy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/shiftctl/internal/testutil/testlog"
)

type handleResult struct {
	exit RemoteExit
	err  error
}

// scriptedHandle lets a test decide exactly when the spawned activation
// process terminates, and with what outcome.
type scriptedHandle struct {
	result chan handleResult
}

func newScriptedHandle() *scriptedHandle {
	return &scriptedHandle{result: make(chan handleResult, 1)}
}

func (h *scriptedHandle) Wait() (RemoteExit, error) {
	r := <-h.result
	return r.exit, r.err
}

func (h *scriptedHandle) resolve(exit RemoteExit, err error) {
	h.result <- handleResult{exit: exit, err: err}
}

type fakeRunner struct {
	mu      sync.Mutex
	started []string
	ran     []string
	addrs   []string

	startErr error
	handle   *scriptedHandle

	runFn func(command string) (RemoteExit, error)
}

func (f *fakeRunner) Run(_ context.Context, addr string, _ []string, command string) (RemoteExit, error) {
	f.mu.Lock()
	f.ran = append(f.ran, command)
	f.addrs = append(f.addrs, addr)
	f.mu.Unlock()
	return f.runFn(command)
}

func (f *fakeRunner) Start(_ context.Context, addr string, _ []string, command string) (Handle, error) {
	f.mu.Lock()
	f.started = append(f.started, command)
	f.addrs = append(f.addrs, addr)
	f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.handle, nil
}

func (f *fakeRunner) commandsRun() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.ran...)
}

func (f *fakeRunner) confirmCount() int {
	count := 0
	for _, cmd := range f.commandsRun() {
		if isConfirmCommand(cmd) {
			count++
		}
	}
	return count
}

func isWaitCommand(command string) bool {
	return strings.Contains(command, "' wait '")
}

func isConfirmCommand(command string) bool {
	return strings.Contains(command, "rm /tmp/deploy-rs-canary-")
}

func exitCode(code int) RemoteExit {
	c := code
	return RemoteExit{Code: &c}
}

func boolPtr(v bool) *bool {
	return &v
}

func testContext() (*DeployData, *DeployDefs) {
	data := &DeployData{
		Settings: Settings{
			SSHOpts: []string{"-o", "StrictHostKeyChecking=accept-new"},
		},
		NodeName:    "node-a",
		ProfileName: "system",
		Closure:     "/nix/store/abc-system",
		Hostname:    "node-a.example.com",
	}
	defs := &DeployDefs{
		Sudo:        "sudo -u root",
		ProfilePath: "/nix/var/nix/profiles/system",
		SSHUser:     "admin",
	}
	return data, defs
}

func TestDeployProfileSimpleModeSuccess(t *testing.T) {
	testlog.Start(t)

	data, defs := testContext()
	data.Settings.MagicRollback = boolPtr(false)

	runner := &fakeRunner{
		runFn: func(string) (RemoteExit, error) { return exitCode(0), nil },
	}
	if err := NewDeployer(runner).DeployProfile(context.Background(), data, defs); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if len(runner.started) != 0 {
		t.Fatalf("simple mode must not spawn: %v", runner.started)
	}
	ran := runner.commandsRun()
	if len(ran) != 1 || !strings.Contains(ran[0], " activate ") {
		t.Fatalf("expected a single blocking activate call, got %v", ran)
	}
	if runner.addrs[0] != "admin@node-a.example.com" {
		t.Fatalf("unexpected ssh addr: %q", runner.addrs[0])
	}
}

func TestDeployProfileSimpleModeExitError(t *testing.T) {
	testlog.Start(t)

	data, defs := testContext()
	data.Settings.MagicRollback = boolPtr(false)

	runner := &fakeRunner{
		runFn: func(string) (RemoteExit, error) { return exitCode(3), nil },
	}
	err := NewDeployer(runner).DeployProfile(context.Background(), data, defs)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Phase != PhaseActivate || exitErr.Code == nil || *exitErr.Code != 3 {
		t.Fatalf("unexpected exit error: %+v", exitErr)
	}
}

func TestDeployProfileHonorsHostnameOverride(t *testing.T) {
	testlog.Start(t)

	data, defs := testContext()
	data.Settings.MagicRollback = boolPtr(false)
	data.HostnameOverride = "10.0.0.5"

	runner := &fakeRunner{
		runFn: func(string) (RemoteExit, error) { return exitCode(0), nil },
	}
	if err := NewDeployer(runner).DeployProfile(context.Background(), data, defs); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if runner.addrs[0] != "admin@10.0.0.5" {
		t.Fatalf("override not honored: %q", runner.addrs[0])
	}
}

func TestDeployProfileSpawnError(t *testing.T) {
	testlog.Start(t)

	data, defs := testContext()
	runner := &fakeRunner{
		startErr: errors.New("ssh: executable file not found"),
		runFn:    func(string) (RemoteExit, error) { return exitCode(0), nil },
	}
	err := NewDeployer(runner).DeployProfile(context.Background(), data, defs)
	if !errors.Is(err, ErrSSHSpawnActivate) {
		t.Fatalf("expected spawn error, got %v", err)
	}
}

func TestDeployActivationFailurePreemptsWait(t *testing.T) {
	testlog.Start(t)

	data, defs := testContext()
	handle := newScriptedHandle()
	handle.resolve(exitCode(1), nil)

	waitRelease := make(chan struct{})
	t.Cleanup(func() { close(waitRelease) })

	runner := &fakeRunner{
		handle: handle,
		runFn: func(command string) (RemoteExit, error) {
			if isWaitCommand(command) {
				// Hold the wait call open: the failing activation must
				// preempt it.
				<-waitRelease
				return exitCode(0), nil
			}
			return exitCode(0), nil
		},
	}

	err := NewDeployer(runner).DeployProfile(context.Background(), data, defs)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Phase != PhaseActivate || exitErr.Code == nil || *exitErr.Code != 1 {
		t.Fatalf("unexpected exit error: %+v", exitErr)
	}
	if runner.confirmCount() != 0 {
		t.Fatalf("confirm must never run after activation failure: %v", runner.commandsRun())
	}
}

func TestDeployActivationAbnormalTerminationPreemptsWait(t *testing.T) {
	testlog.Start(t)

	data, defs := testContext()
	handle := newScriptedHandle()
	handle.resolve(RemoteExit{}, nil)

	waitRelease := make(chan struct{})
	t.Cleanup(func() { close(waitRelease) })

	runner := &fakeRunner{
		handle: handle,
		runFn: func(command string) (RemoteExit, error) {
			if isWaitCommand(command) {
				<-waitRelease
			}
			return exitCode(0), nil
		},
	}

	err := NewDeployer(runner).DeployProfile(context.Background(), data, defs)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Phase != PhaseActivate || exitErr.Code != nil {
		t.Fatalf("abnormal termination must carry no exit code: %+v", exitErr)
	}
}

func TestDeployWaitSuccessConfirmsExactlyOnce(t *testing.T) {
	testlog.Start(t)

	data, defs := testContext()
	handle := newScriptedHandle()
	handle.resolve(exitCode(0), nil)

	runner := &fakeRunner{
		handle: handle,
		runFn:  func(string) (RemoteExit, error) { return exitCode(0), nil },
	}

	if err := NewDeployer(runner).DeployProfile(context.Background(), data, defs); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if got := runner.confirmCount(); got != 1 {
		t.Fatalf("expected exactly one confirm, got %d: %v", got, runner.commandsRun())
	}
	for _, cmd := range runner.commandsRun() {
		if isConfirmCommand(cmd) {
			want := "sudo -u root rm /tmp/deploy-rs-canary-abc-system"
			if cmd != want {
				t.Fatalf("unexpected confirm command:\n got: %s\nwant: %s", cmd, want)
			}
		}
	}
}

func TestDeployConfirmExitErrorSurfaces(t *testing.T) {
	testlog.Start(t)

	data, defs := testContext()
	handle := newScriptedHandle()
	handle.resolve(exitCode(0), nil)

	runner := &fakeRunner{
		handle: handle,
		runFn: func(command string) (RemoteExit, error) {
			if isConfirmCommand(command) {
				return exitCode(1), nil
			}
			return exitCode(0), nil
		},
	}

	err := NewDeployer(runner).DeployProfile(context.Background(), data, defs)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Phase != PhaseConfirm || exitErr.Code == nil || *exitErr.Code != 1 {
		t.Fatalf("unexpected exit error: %+v", exitErr)
	}
}

func TestDeployLateActivationFailureOverridesConfirm(t *testing.T) {
	testlog.Start(t)

	data, defs := testContext()
	handle := newScriptedHandle()

	runner := &fakeRunner{handle: handle}
	runner.runFn = func(command string) (RemoteExit, error) {
		if isConfirmCommand(command) {
			// The activation process dies only after the wait race was won
			// and the confirm has been issued.
			handle.resolve(exitCode(9), nil)
		}
		return exitCode(0), nil
	}

	err := NewDeployer(runner).DeployProfile(context.Background(), data, defs)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("late activation failure must surface, got %v", err)
	}
	if exitErr.Phase != PhaseActivate || exitErr.Code == nil || *exitErr.Code != 9 {
		t.Fatalf("unexpected exit error: %+v", exitErr)
	}
	if got := runner.confirmCount(); got != 1 {
		t.Fatalf("expected one confirm before the late failure, got %d", got)
	}
}

func TestDeployWaitExitErrorSurfaces(t *testing.T) {
	testlog.Start(t)

	data, defs := testContext()
	handle := newScriptedHandle()
	handle.resolve(exitCode(0), nil)

	runner := &fakeRunner{
		handle: handle,
		runFn: func(command string) (RemoteExit, error) {
			if isWaitCommand(command) {
				return exitCode(2), nil
			}
			return exitCode(0), nil
		},
	}

	err := NewDeployer(runner).DeployProfile(context.Background(), data, defs)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Phase != PhaseWait || exitErr.Code == nil || *exitErr.Code != 2 {
		t.Fatalf("unexpected exit error: %+v", exitErr)
	}
	if runner.confirmCount() != 0 {
		t.Fatalf("confirm must not run after wait failure")
	}
}

func TestDeployWaitTransportErrorSurfaces(t *testing.T) {
	testlog.Start(t)

	data, defs := testContext()
	handle := newScriptedHandle()
	handle.resolve(exitCode(0), nil)

	runner := &fakeRunner{
		handle: handle,
		runFn: func(command string) (RemoteExit, error) {
			if isWaitCommand(command) {
				return RemoteExit{}, errors.New("connection reset")
			}
			return exitCode(0), nil
		},
	}

	err := NewDeployer(runner).DeployProfile(context.Background(), data, defs)
	if !errors.Is(err, ErrSSHWait) {
		t.Fatalf("expected wait transport error, got %v", err)
	}
}

func TestPlanAppliesProtocolDefaults(t *testing.T) {
	testlog.Start(t)

	data, defs := testContext()
	activate, wait := Plan(data, defs)

	for _, fragment := range []string{
		"--temp-path '/tmp'",
		"--confirm-timeout 30",
		"--magic-rollback",
		"--auto-rollback",
	} {
		if !strings.Contains(activate, fragment) {
			t.Fatalf("activate plan missing %q: %s", fragment, activate)
		}
	}
	if !strings.Contains(wait, "--temp-path '/tmp' wait '/nix/store/abc-system'") {
		t.Fatalf("unexpected wait plan: %s", wait)
	}
}
