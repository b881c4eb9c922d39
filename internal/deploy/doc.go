// Package deploy owns the per-host profile activation protocol.
//
// Ownership boundary:
// - remote activate/wait/confirm command-line assembly
// - the ssh process gateway
// - the activation race and confirmation handshake
//
// Deploy does not resolve nodes or build closures; callers hand it a
// fully-merged read-only context per target.
package deploy
