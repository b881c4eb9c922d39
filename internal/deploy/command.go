package deploy

import "fmt"

// ActivateCommandData carries every input of the remote activation command line.
type ActivateCommandData struct {
	// Sudo is the privilege-escalation prefix; empty means none.
	Sudo           string
	ProfilePath    string
	Closure        string
	AutoRollback   bool
	TempPath       string
	ConfirmTimeout uint16
	MagicRollback  bool
	DebugLogs      bool
	// LogDir is the remote activation log directory; empty means unset.
	LogDir string
}

// WaitCommandData carries every input of the remote wait command line.
type WaitCommandData struct {
	Sudo      string
	Closure   string
	TempPath  string
	DebugLogs bool
	LogDir    string
}

// BuildActivateCommand assembles the remote activate invocation. Flag order
// is an external contract: operators and the remote activate-rs binary parse
// the line by position and flag name. Path arguments are wrapped in literal
// single quotes with no escaping, so paths containing a quote break the
// remote command (known limitation).
func BuildActivateCommand(data ActivateCommandData) string {
	selfActivateCommand := fmt.Sprintf("%s/activate-rs", data.Closure)

	if data.DebugLogs {
		selfActivateCommand = fmt.Sprintf("%s --debug-logs", selfActivateCommand)
	}
	if data.LogDir != "" {
		selfActivateCommand = fmt.Sprintf("%s --log-dir %s", selfActivateCommand, data.LogDir)
	}

	selfActivateCommand = fmt.Sprintf(
		"%s --temp-path '%s' activate '%s' '%s'",
		selfActivateCommand, data.TempPath, data.Closure, data.ProfilePath,
	)

	selfActivateCommand = fmt.Sprintf(
		"%s --confirm-timeout %d",
		selfActivateCommand, data.ConfirmTimeout,
	)

	if data.MagicRollback {
		selfActivateCommand = fmt.Sprintf("%s --magic-rollback", selfActivateCommand)
	}
	if data.AutoRollback {
		selfActivateCommand = fmt.Sprintf("%s --auto-rollback", selfActivateCommand)
	}
	if data.Sudo != "" {
		selfActivateCommand = fmt.Sprintf("%s %s", data.Sudo, selfActivateCommand)
	}

	return selfActivateCommand
}

// BuildWaitCommand assembles the remote wait invocation. The wait call blocks
// on the remote side until the canary lock file is removed or the activation
// binary's own timeout fires; it carries no timeout or rollback flags.
func BuildWaitCommand(data WaitCommandData) string {
	selfActivateCommand := fmt.Sprintf("%s/activate-rs", data.Closure)

	if data.DebugLogs {
		selfActivateCommand = fmt.Sprintf("%s --debug-logs", selfActivateCommand)
	}
	if data.LogDir != "" {
		selfActivateCommand = fmt.Sprintf("%s --log-dir %s", selfActivateCommand, data.LogDir)
	}

	selfActivateCommand = fmt.Sprintf(
		"%s --temp-path '%s' wait '%s'",
		selfActivateCommand, data.TempPath, data.Closure,
	)

	if data.Sudo != "" {
		selfActivateCommand = fmt.Sprintf("%s %s", data.Sudo, selfActivateCommand)
	}

	return selfActivateCommand
}
