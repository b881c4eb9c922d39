package deploy

import "fmt"

const (
	defaultTempPath       = "/tmp"
	defaultConfirmTimeout = uint16(30)
)

// Settings is the merged per-target configuration view consumed by the
// orchestrator. Pointer fields are tri-state: nil means unset, and the
// protocol defaults apply (magic and auto rollback on, 30s confirm timeout).
type Settings struct {
	SSHOpts        []string
	Sudo           string
	TempPath       string
	ConfirmTimeout *uint16
	MagicRollback  *bool
	AutoRollback   *bool
}

func (s Settings) tempPath() string {
	if s.TempPath == "" {
		return defaultTempPath
	}
	return s.TempPath
}

func (s Settings) confirmTimeout() uint16 {
	if s.ConfirmTimeout == nil {
		return defaultConfirmTimeout
	}
	return *s.ConfirmTimeout
}

func (s Settings) magicRollback() bool {
	if s.MagicRollback == nil {
		return true
	}
	return *s.MagicRollback
}

func (s Settings) autoRollback() bool {
	if s.AutoRollback == nil {
		return true
	}
	return *s.AutoRollback
}

// DeployData is the read-only per-target context assembled by the caller.
// Multiple targets may run the protocol concurrently, each with its own
// DeployData; nothing in it is mutated after construction.
type DeployData struct {
	Settings Settings

	NodeName    string
	ProfileName string

	// Closure is the profile's store path on the remote host; it contains the
	// activation binary and everything it needs.
	Closure string

	// Hostname is the node's declared hostname; HostnameOverride wins when
	// non-empty.
	Hostname         string
	HostnameOverride string

	DebugLogs bool
	LogDir    string
}

// DeployDefs are the resolved deployment definitions for one profile.
type DeployDefs struct {
	Sudo        string
	ProfilePath string
	SSHUser     string
}

// SSHAddr resolves the user@host target for this deployment.
func (d *DeployData) SSHAddr(defs *DeployDefs) string {
	hostname := d.Hostname
	if d.HostnameOverride != "" {
		hostname = d.HostnameOverride
	}
	return fmt.Sprintf("%s@%s", defs.SSHUser, hostname)
}
