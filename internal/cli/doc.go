// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the kbtasks command line.
//
// # Commands
//
//   - serve: run the scheduler and control API (wired in main)
//   - add doc|kb|crawl: queue a task
//   - list, show, watch: inspect the queue
//   - cancel, retry, remove, pause, resume: act on one task
//   - clear: remove completed (or, with --all --confirm, every) task
//   - config show|path|init|get|set: manage the config file
//   - version, help
//
// Every command except serve, config, version and help talks to a running
// server through api.Client.
//
// # Output
//
// Human output is styled with lipgloss and degrades to plain text when
// stdout is not a terminal or NO_COLOR is set. --json switches every
// command to a JSONResponse envelope, except watch, which prints one JSON
// task list per line.
package cli
