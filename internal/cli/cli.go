// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing for kbtasks.
package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdHelp Command = iota
	CmdServe
	CmdAdd
	CmdList
	CmdShow
	CmdWatch
	CmdCancel
	CmdRetry
	CmdRemove
	CmdPause
	CmdResume
	CmdClear
	CmdConfig
	CmdVersion
	CmdUnknown
)

// commandNames maps each command to its canonical name, used in JSON output.
var commandNames = map[Command]string{
	CmdHelp:    "help",
	CmdServe:   "serve",
	CmdAdd:     "add",
	CmdList:    "list",
	CmdShow:    "show",
	CmdWatch:   "watch",
	CmdCancel:  "cancel",
	CmdRetry:   "retry",
	CmdRemove:  "remove",
	CmdPause:   "pause",
	CmdResume:  "resume",
	CmdClear:   "clear",
	CmdConfig:  "config",
	CmdVersion: "version",
}

// String returns the command name.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown"
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	JSON  bool
	Quiet bool
	Addr  string
	Token string

	// ConfigPath overrides the config file location
	ConfigPath string

	// Name is the command word as typed
	Name string

	// Raw holds the arguments after the command word, global flags removed
	Raw []string
}

const usageText = `kbtasks - background task runner for knowledge-base embedding and crawling

Usage:
  kbtasks serve                       Run the scheduler and control API
  kbtasks add doc <document-id>       Queue a document embedding
  kbtasks add kb <kb-id>              Queue a knowledge-base embedding
  kbtasks add crawl <url> --kb <id>   Queue a webpage crawl
  kbtasks list [--all] [--status S]   List tasks (alias: ls)
  kbtasks show <id>                   Show one task
  kbtasks watch                       Follow the queue live
  kbtasks cancel <id>                 Cancel a pending or running task
  kbtasks retry <id>                  Requeue a failed task
  kbtasks remove <id>                 Remove a task (alias: rm)
  kbtasks pause <id>                  Pause a running crawl
  kbtasks resume <id>                 Resume a paused crawl
  kbtasks clear [--all --confirm]     Remove completed tasks (or all tasks)
  kbtasks config [show|path|init|get|set]
  kbtasks version
  kbtasks help

Add options:
  --title TEXT                        Display title (derived when omitted)
  --operator ID                       Operator the remote job runs as
  --kb ID                             Target knowledge base (crawl)
  --mode single_url|full_site         Crawl mode (default single_url)
  --depth N, --pages N                Crawl limits (defaults 3 and 100)
  --label TEXT                        Source label (crawl)
  --webhook URL                       Completion webhook (crawl)
  --ai, --extraction-mode M, --prompt TEXT, --preset P
                                      AI extraction settings (crawl)
  --selector CSS, --exclude CSS       Content selectors (crawl)
  --force                             Re-analyze pages already crawled

Config commands:
  kbtasks config show                 Print the effective config (secrets redacted)
  kbtasks config path                 Print the config file path
  kbtasks config init [--force]       Write a default config file
  kbtasks config get <key>            Print one value (e.g. engine.max_retries)
  kbtasks config set <key> <value>    Update one value in the config file

Global flags:
  --json                              Machine-readable output
  -q, --quiet                         Only print errors
  --addr HOST:PORT                    Server address (default from config)
  --token TOKEN                       API bearer token (default from config)
  --config PATH                       Config file (default ~/.kbtasks/config.toml)

Task IDs may be abbreviated to any unique prefix.

Version: %s
`

// PrintUsage writes the help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// VersionInfo is the data printed by the version command.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build information.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer, jsonMode bool) error {
	info := GetVersionInfo()
	if jsonMode {
		return NewJSONResponse("version", info).Write(w)
	}
	fmt.Fprintf(w, "kbtasks version %s\n", info.Version)
	fmt.Fprintf(w, "  Git commit: %s\n", info.GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", info.BuildDate)
	fmt.Fprintf(w, "  Go:         %s (%s)\n", info.GoVersion, info.Platform)
	return nil
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses command-line arguments (without the program name) and
// returns the command and its args.
func Parse(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)
	if len(remaining) == 0 {
		return CmdHelp, args
	}

	args.Name = remaining[0]
	args.Raw = remaining[1:]

	switch strings.ToLower(args.Name) {
	case "serve", "server":
		return CmdServe, args
	case "add", "queue":
		return CmdAdd, args
	case "list", "ls":
		return CmdList, args
	case "show", "get":
		return CmdShow, args
	case "watch":
		return CmdWatch, args
	case "cancel", "stop":
		return CmdCancel, args
	case "retry":
		return CmdRetry, args
	case "remove", "rm", "delete":
		return CmdRemove, args
	case "pause":
		return CmdPause, args
	case "resume":
		return CmdResume, args
	case "clear":
		return CmdClear, args
	case "config":
		return CmdConfig, args
	case "version", "-v", "--version":
		return CmdVersion, args
	case "help", "-h", "--help":
		return CmdHelp, args
	default:
		return CmdUnknown, args
	}
}

// parseGlobalFlags extracts global flags from anywhere in args and returns
// the rest in order.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var (
		remaining []string
		args      Args
	)

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "--json":
			args.JSON = true
		case arg == "-q" || arg == "--quiet":
			args.Quiet = true
		case arg == "--addr" && i+1 < len(argv):
			i++
			args.Addr = argv[i]
		case strings.HasPrefix(arg, "--addr="):
			args.Addr = strings.TrimPrefix(arg, "--addr=")
		case arg == "--token" && i+1 < len(argv):
			i++
			args.Token = argv[i]
		case strings.HasPrefix(arg, "--token="):
			args.Token = strings.TrimPrefix(arg, "--token=")
		case arg == "--config" && i+1 < len(argv):
			i++
			args.ConfigPath = argv[i]
		case strings.HasPrefix(arg, "--config="):
			args.ConfigPath = strings.TrimPrefix(arg, "--config=")
		default:
			remaining = append(remaining, arg)
		}
	}
	return remaining, args
}
