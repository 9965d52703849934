// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TERMINAL
// =============================================================================

const (
	// DefaultTerminalWidth is used when stdout is not a terminal
	DefaultTerminalWidth = 100

	// MinTerminalWidth is the narrowest layout the task table supports
	MinTerminalWidth = 60
)

// clearScreen is written before each frame of watch output on a terminal.
const clearScreen = "\x1b[H\x1b[2J"

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// GetTerminalWidth returns the stdout width clamped to MinTerminalWidth.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	return clampWidth(width, err == nil)
}

func clampWidth(width int, ok bool) int {
	switch {
	case !ok || width <= 0:
		return DefaultTerminalWidth
	case width < MinTerminalWidth:
		return MinTerminalWidth
	default:
		return width
	}
}

// =============================================================================
// COLOR
// =============================================================================

var (
	colorsOnce    sync.Once
	colorsEnabled bool
)

// ColorsEnabled reports whether output should be colored. Decided once per
// process; see https://no-color.org/.
func ColorsEnabled() bool {
	colorsOnce.Do(func() {
		colorsEnabled = wantColors(os.Getenv, IsStdoutTTY())
	})
	return colorsEnabled
}

// wantColors applies NO_COLOR, then FORCE_COLOR, then TTY detection.
func wantColors(getenv func(string) string, tty bool) bool {
	if getenv("NO_COLOR") != "" {
		return false
	}
	if getenv("FORCE_COLOR") != "" {
		return true
	}
	return tty
}

// GetColorProfile returns the termenv profile lipgloss renders with.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
