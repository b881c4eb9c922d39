package deploy

import (
	"context"
	"errors"
	"os"
	"os/exec"
)

// RemoteExit is the terminal status of a remote process. A nil Code means the
// process did not exit normally; callers must never treat that as success.
type RemoteExit struct {
	Code *int
}

// Success reports whether the remote process exited with code exactly 0.
func (e RemoteExit) Success() bool {
	return e.Code != nil && *e.Code == 0
}

// Handle resolves to the eventual exit of a spawned remote process.
type Handle interface {
	Wait() (RemoteExit, error)
}

// Runner executes command lines on a remote host over the configured
// transport. A returned error means the transport itself could not be
// invoked; interpreting exit codes is the caller's job.
type Runner interface {
	Run(ctx context.Context, addr string, sshOpts []string, command string) (RemoteExit, error)
	Start(ctx context.Context, addr string, sshOpts []string, command string) (Handle, error)
}

// SSHRunner shells out to the system ssh binary, inheriting the parent's
// stdout/stderr so remote activation output reaches the operator.
type SSHRunner struct{}

func NewSSHRunner() SSHRunner {
	return SSHRunner{}
}

// Run blocks until the remote command exits.
func (SSHRunner) Run(ctx context.Context, addr string, sshOpts []string, command string) (RemoteExit, error) {
	cmd := sshCommand(ctx, addr, sshOpts, command)
	return remoteExitFromRun(cmd.Run())
}

// Start spawns the remote command and returns a handle to its eventual exit.
func (SSHRunner) Start(ctx context.Context, addr string, sshOpts []string, command string) (Handle, error) {
	cmd := sshCommand(ctx, addr, sshOpts, command)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &sshHandle{cmd: cmd}, nil
}

type sshHandle struct {
	cmd *exec.Cmd
}

func (h *sshHandle) Wait() (RemoteExit, error) {
	return remoteExitFromRun(h.cmd.Wait())
}

func sshCommand(ctx context.Context, addr string, sshOpts []string, command string) *exec.Cmd {
	args := make([]string, 0, len(sshOpts)+2)
	args = append(args, addr)
	args = append(args, sshOpts...)
	args = append(args, command)

	cmd := exec.CommandContext(ctx, "ssh", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// remoteExitFromRun maps an os/exec outcome onto the gateway contract:
// "ran and exited with code C" becomes a RemoteExit, "could not be run at
// all" stays an error.
func remoteExitFromRun(err error) (RemoteExit, error) {
	if err == nil {
		code := 0
		return RemoteExit{Code: &code}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return RemoteExit{Code: &code}, nil
		}
		// Killed by a signal: the process ran but has no exit code.
		return RemoteExit{}, nil
	}
	return RemoteExit{}, err
}
