package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// MakeLockPath derives the canary lock file the remote activation binary
// creates under tempPath for one profile closure. The naming scheme belongs
// to activate-rs; shiftctl only ever removes the file.
func MakeLockPath(tempPath string, closure string) string {
	lockHash := strings.TrimPrefix(closure, "/nix/store/")
	return fmt.Sprintf("%s/deploy-rs-canary-%s", tempPath, lockHash)
}

// ConfirmProfile removes the remote canary lock file, the single step that
// makes a freshly activated profile durable. Anything but a clean zero exit
// leaves the remote side free to roll back on its own timeout.
func (d *Deployer) ConfirmProfile(ctx context.Context, data *DeployData, defs *DeployDefs, tempPath string, sshAddr string) error {
	lockPath := MakeLockPath(tempPath, data.Closure)

	confirmCommand := fmt.Sprintf("rm %s", lockPath)
	if defs.Sudo != "" {
		confirmCommand = fmt.Sprintf("%s %s", defs.Sudo, confirmCommand)
	}

	log.Debug().Str("command", confirmCommand).Msg("attempting to run command to confirm deployment")

	exit, err := d.runner.Run(ctx, sshAddr, data.Settings.SSHOpts, confirmCommand)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSSHConfirm, err)
	}
	if !exit.Success() {
		return &ExitError{Phase: PhaseConfirm, Code: exit.Code}
	}

	log.Info().Str("node", data.NodeName).Str("profile", data.ProfileName).Msg("deployment confirmed")
	return nil
}
