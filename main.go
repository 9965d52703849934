// kbtasks - background task runner for knowledge-base embedding and crawling.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/kbtasks/internal/cli"
	"github.com/jeranaias/kbtasks/internal/config"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse(os.Args[1:])
	os.Exit(run(cmd, args))
}

// run executes one command and returns the process exit code.
func run(cmd cli.Command, args cli.Args) int {
	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage(os.Stdout)
		return cli.ExitSuccess
	case cli.CmdVersion:
		return report(cmd, args, cli.PrintVersion(os.Stdout, args.JSON))
	case cli.CmdUnknown:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args.Name)
		cli.PrintUsage(os.Stderr)
		return cli.ExitUsageError
	}

	cfg, path, err := loadConfig(args)
	if err != nil {
		return report(cmd, args, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := cli.NewEnv(args, cfg)
	switch cmd {
	case cli.CmdServe:
		err = serve(ctx, cfg, path, args)
	case cli.CmdConfig:
		err = cli.HandleConfig(os.Stdout, args.Raw, cfg, path, args.JSON)
	case cli.CmdAdd:
		err = env.HandleAdd(ctx, args.Raw)
	case cli.CmdList:
		err = env.HandleList(ctx, args.Raw)
	case cli.CmdShow:
		err = env.HandleShow(ctx, args.Raw)
	case cli.CmdWatch:
		err = env.HandleWatch(ctx)
	case cli.CmdCancel:
		err = env.HandleCancel(ctx, args.Raw)
	case cli.CmdRetry:
		err = env.HandleRetry(ctx, args.Raw)
	case cli.CmdRemove:
		err = env.HandleRemove(ctx, args.Raw)
	case cli.CmdPause:
		err = env.HandlePause(ctx, args.Raw)
	case cli.CmdResume:
		err = env.HandleResume(ctx, args.Raw)
	case cli.CmdClear:
		err = env.HandleClear(ctx, args.Raw)
	}
	return report(cmd, args, err)
}

// report prints err and maps it to an exit code.
func report(cmd cli.Command, args cli.Args, err error) int {
	if err == nil {
		return cli.ExitSuccess
	}
	if args.JSON {
		cli.DisplayError(os.Stdout, cmd.String(), err, true)
	} else {
		cli.DisplayError(os.Stderr, cmd.String(), err, false)
	}
	return cli.GetExitCode(err)
}

// loadConfig loads the config from --config or the default location and
// returns it with the path it belongs to.
func loadConfig(args cli.Args) (*config.Config, string, error) {
	if args.ConfigPath != "" {
		if _, err := os.Stat(args.ConfigPath); err != nil {
			cfg := config.Default()
			cfg.ApplyEnvOverrides()
			return cfg, args.ConfigPath, nil
		}
		cfg, err := config.LoadFromPath(args.ConfigPath)
		return cfg, args.ConfigPath, err
	}

	path, err := config.ConfigPathTOML()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load()
	return cfg, path, err
}
