package deploy

import (
	"errors"
	"fmt"
)

var (
	ErrSSHSpawnActivate = errors.New("deploy: failed to spawn activation command over ssh")
	ErrSSHActivate      = errors.New("deploy: failed to run activation command over ssh")
	ErrSSHWait          = errors.New("deploy: failed to run wait command over ssh")
	ErrSSHConfirm       = errors.New("deploy: failed to run confirmation command over ssh (the server should roll back)")
)

// Phase names the remote call an ExitError originated from.
type Phase string

const (
	PhaseActivate Phase = "activate"
	PhaseWait     Phase = "wait"
	PhaseConfirm  Phase = "confirm"
)

// ExitError reports a remote process that ran but did not exit cleanly. A nil
// Code means the process terminated without an exit code, e.g. was killed by
// a signal; that is always a failure.
type ExitError struct {
	Phase Phase
	Code  *int
}

func (e *ExitError) Error() string {
	suffix := ""
	if e.Phase == PhaseConfirm {
		suffix = " (the server should roll back)"
	}
	if e.Code == nil {
		return fmt.Sprintf("deploy: %s command over ssh terminated without an exit code%s", e.Phase, suffix)
	}
	return fmt.Sprintf("deploy: %s command over ssh exited with code %d%s", e.Phase, *e.Code, suffix)
}
