package deploy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Deployer runs the activation protocol against remote targets through an
// injected process gateway.
type Deployer struct {
	runner Runner
}

func NewDeployer(runner Runner) *Deployer {
	return &Deployer{runner: runner}
}

// Plan reports the exact activate and wait command lines DeployProfile would
// issue for this context, with protocol defaults applied.
func Plan(data *DeployData, defs *DeployDefs) (activate string, wait string) {
	activate = BuildActivateCommand(ActivateCommandData{
		Sudo:           defs.Sudo,
		ProfilePath:    defs.ProfilePath,
		Closure:        data.Closure,
		AutoRollback:   data.Settings.autoRollback(),
		TempPath:       data.Settings.tempPath(),
		ConfirmTimeout: data.Settings.confirmTimeout(),
		MagicRollback:  data.Settings.magicRollback(),
		DebugLogs:      data.DebugLogs,
		LogDir:         data.LogDir,
	})
	wait = BuildWaitCommand(WaitCommandData{
		Sudo:      defs.Sudo,
		Closure:   data.Closure,
		TempPath:  data.Settings.tempPath(),
		DebugLogs: data.DebugLogs,
		LogDir:    data.LogDir,
	})
	return activate, wait
}

// DeployProfile activates data's profile on the target host. With magic
// rollback enabled it spawns the remote activation, races a blocking wait
// call against activation failure, and performs the confirmation handshake
// once the remote side is holding for confirmation. With magic rollback
// disabled it blocks on activation alone. One attempt, no retries: recovery
// is the remote binary's own timeout rollback.
func (d *Deployer) DeployProfile(ctx context.Context, data *DeployData, defs *DeployDefs) error {
	log.Info().
		Str("profile", data.ProfileName).
		Str("node", data.NodeName).
		Msg("activating profile")

	activateCommand, waitCommand := Plan(data, defs)
	log.Debug().Str("command", activateCommand).Msg("constructed activation command")

	sshAddr := data.SSHAddr(defs)

	if !data.Settings.magicRollback() {
		return d.activateSimple(ctx, data, sshAddr, activateCommand)
	}
	return d.activateWithRollback(ctx, data, defs, sshAddr, activateCommand, waitCommand)
}

// activateSimple blocks on the activation command; exit 0 is the only success.
func (d *Deployer) activateSimple(ctx context.Context, data *DeployData, sshAddr string, activateCommand string) error {
	exit, err := d.runner.Run(ctx, sshAddr, data.Settings.SSHOpts, activateCommand)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSSHActivate, err)
	}
	if !exit.Success() {
		return &ExitError{Phase: PhaseActivate, Code: exit.Code}
	}
	log.Info().Msg("success activating, done")
	return nil
}

// activateWithRollback runs the magic-rollback protocol: spawn activate, race
// the wait command against activation failure, confirm on the success path.
// The activation goroutine is always drained before returning so no process
// handle outlives this call, and an activation failure observed late still
// overrides the final result.
func (d *Deployer) activateWithRollback(ctx context.Context, data *DeployData, defs *DeployDefs, sshAddr string, activateCommand string, waitCommand string) error {
	log.Debug().Str("command", waitCommand).Msg("constructed wait command")

	handle, err := d.runner.Start(ctx, sshAddr, data.Settings.SSHOpts, activateCommand)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSSHSpawnActivate, err)
	}

	log.Info().Msg("creating activation waiter")

	// One-shot signals: activateFailed carries at most one failure,
	// activateDone closes once the activation process has fully terminated.
	activateFailed := make(chan error, 1)
	activateDone := make(chan struct{})

	go func() {
		defer close(activateDone)
		exit, err := handle.Wait()
		switch {
		case err != nil:
			activateFailed <- fmt.Errorf("%w: %v", ErrSSHActivate, err)
		case !exit.Success():
			activateFailed <- &ExitError{Phase: PhaseActivate, Code: exit.Code}
		}
	}()

	type waitOutcome struct {
		exit RemoteExit
		err  error
	}
	waitCh := make(chan waitOutcome, 1)
	go func() {
		exit, err := d.runner.Run(ctx, sshAddr, data.Settings.SSHOpts, waitCommand)
		waitCh <- waitOutcome{exit: exit, err: err}
	}()

	// Race the wait call against activation failure. Activation success is
	// not a winner here: it only means the wait call will eventually
	// unblock. Activation failure always preempts, since a confirmation
	// that can never arrive would hang the deployment.
	select {
	case res := <-waitCh:
		log.Debug().Msg("wait command ended")
		if waitErr := waitResultErr(res.exit, res.err); waitErr != nil {
			<-activateDone
			if actErr := takeActivateFailure(activateFailed); actErr != nil {
				return actErr
			}
			return waitErr
		}
	case actErr := <-activateFailed:
		log.Debug().Msg("activate command exited with an error")
		<-activateDone
		return actErr
	}

	log.Info().Msg("success activating, attempting to confirm activation")

	confirmErr := d.ConfirmProfile(ctx, data, defs, data.Settings.tempPath(), sshAddr)

	// Success is provisional until the activation process's own terminal
	// outcome is known; a late failure overrides even a clean confirm.
	<-activateDone
	if actErr := takeActivateFailure(activateFailed); actErr != nil {
		return actErr
	}
	return confirmErr
}

func waitResultErr(exit RemoteExit, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSSHWait, err)
	}
	if !exit.Success() {
		return &ExitError{Phase: PhaseWait, Code: exit.Code}
	}
	return nil
}

// takeActivateFailure drains the buffered failure signal. Only valid after
// activateDone has closed, so the read cannot race the sender.
func takeActivateFailure(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	default:
		return nil
	}
}
