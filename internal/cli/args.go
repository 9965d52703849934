// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser splits command arguments into flags and positionals.
// It handles:
//   - Long flags: --flag value or --flag=value
//   - Short flags: -f value
//   - Boolean flags: --flag (no value needed)
//   - Positional arguments: arguments without flags
type ArgParser struct {
	flags      map[string]string
	boolFlags  map[string]bool
	positional []string
	raw        []string
}

// NewArgParser parses raw. Names listed in bools never take a value, so
// "--ai https://example.com" keeps the URL as a positional.
//
// Example:
//
//	p := NewArgParser([]string{"crawl", "https://example.com", "--kb", "kb-1", "--ai"}, "ai")
//	p.Positional(0)   // "crawl"
//	p.Flag("kb")      // "kb-1"
//	p.BoolFlag("ai")  // true
func NewArgParser(raw []string, bools ...string) *ArgParser {
	p := &ArgParser{
		flags:     make(map[string]string),
		boolFlags: make(map[string]bool),
		raw:       raw,
	}
	isBool := make(map[string]bool, len(bools))
	for _, b := range bools {
		isBool[b] = true
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			p.positional = append(p.positional, arg)
			continue
		}

		// --flag=value
		if name, value, ok := strings.Cut(arg, "="); ok {
			name = strings.TrimLeft(name, "-")
			if value == "true" || value == "false" {
				p.boolFlags[name] = value == "true"
			} else {
				p.flags[name] = value
			}
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if !isBool[name] && i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
			p.flags[name] = raw[i+1]
			i++
			continue
		}
		p.boolFlags[name] = true
	}
	return p
}

// Flag returns the value of a string flag, or "" when absent.
func (p *ArgParser) Flag(names ...string) string {
	for _, name := range names {
		if v, ok := p.flags[strings.TrimLeft(name, "-")]; ok {
			return v
		}
	}
	return ""
}

// FlagInt returns an integer flag. Absent flags return def; malformed ones
// return an error naming the flag.
func (p *ArgParser) FlagInt(name string, def int) (int, error) {
	v := p.Flag(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, usageErrorf("--%s must be an integer, got %q", name, v)
	}
	return n, nil
}

// BoolFlag reports whether any of names was given as a boolean flag.
func (p *ArgParser) BoolFlag(names ...string) bool {
	for _, name := range names {
		if p.boolFlags[strings.TrimLeft(name, "-")] {
			return true
		}
	}
	return false
}

// Positional returns the positional argument at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalCount returns the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// Raw returns the original arguments.
func (p *ArgParser) Raw() []string {
	return p.raw
}

// requirePositional returns positional index or a usage error.
func (p *ArgParser) requirePositional(index int, name, usage string) (string, error) {
	v := p.Positional(index)
	if v == "" {
		return "", usageErrorf("missing %s\nUsage: %s", name, usage)
	}
	return v, nil
}

// =============================================================================
// USAGE ERRORS
// =============================================================================

// UsageError reports a malformed command line.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

func usageErrorf(format string, args ...interface{}) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}
