package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/shiftctl/internal/config"
	"github.com/danmuck/shiftctl/internal/deploy"
	"github.com/danmuck/shiftctl/internal/logging"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "shiftctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("shiftctl", flag.ContinueOnError)
	configPath := fs.String("config", "fleet.toml", "fleet configuration file")
	overlayPath := fs.String("overlay", "", "optional operator overlay file applied over fleet settings")
	target := fs.String("target", "", "deployment target as node or node.profile")
	hostname := fs.String("hostname", "", "override the node's declared hostname")
	debugLogs := fs.Bool("debug-logs", false, "pass --debug-logs to the remote activation binary")
	logDir := fs.String("log-dir", "", "remote activation log directory")
	dryRun := fs.Bool("dry-run", false, "print the remote command lines without connecting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logging.ConfigureRuntime()

	cfg, err := config.LoadFleetConfig(*configPath)
	if err != nil {
		return err
	}
	if *overlayPath != "" {
		cfg, err = applyOverlay(cfg, *overlayPath)
		if err != nil {
			return err
		}
	}

	node, profile, err := config.ResolveTarget(cfg, *target)
	if err != nil {
		return err
	}

	data, defs := config.DeployInputs(cfg, node, profile, *hostname, *debugLogs, *logDir)

	if *dryRun {
		activate, wait := deploy.Plan(&data, &defs)
		fmt.Fprintf(out, "target: %s\n", data.SSHAddr(&defs))
		fmt.Fprintf(out, "activate: %s\n", activate)
		fmt.Fprintf(out, "wait: %s\n", wait)
		return nil
	}

	attempt := uuid.NewString()
	logger := log.With().
		Str("attempt", attempt).
		Str("node", node.Name).
		Str("profile", profile.Name).
		Logger()
	logger.Info().Str("target", data.SSHAddr(&defs)).Msg("starting deployment")

	deployer := deploy.NewDeployer(deploy.NewSSHRunner())
	if err := deployer.DeployProfile(context.Background(), &data, &defs); err != nil {
		return err
	}

	logger.Info().Msg("deployment complete")
	return nil
}
