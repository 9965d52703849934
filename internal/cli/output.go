// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jeranaias/kbtasks/internal/api"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// =============================================================================
// JSON OUTPUT
// =============================================================================

// JSONResponse is the envelope every command prints in --json mode.
type JSONResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data"`
	Error     *string     `json:"error"`
	Timestamp string      `json:"timestamp"`
	Command   string      `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates an error response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write prints the response as indented JSON.
func (r *JSONResponse) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// writeNDJSON prints list as a single JSON line.
func writeNDJSON(w io.Writer, list []tasks.Task) error {
	if list == nil {
		list = []tasks.Task{}
	}
	return json.NewEncoder(w).Encode(list)
}

// =============================================================================
// ERRORS AND EXIT CODES
// =============================================================================

// Exit codes.
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitNotFound     = 3
	ExitConflict     = 4
	ExitUnavailable  = 5
)

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}
	if errors.Is(err, tasks.ErrNotFound) {
		return ExitNotFound
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == 409:
			return ExitConflict
		case apiErr.Status == 400:
			return ExitUsageError
		}
		return ExitGeneralError
	}

	var unavailable *ServerUnavailableError
	if errors.As(err, &unavailable) {
		return ExitUnavailable
	}
	return ExitGeneralError
}

// ServerUnavailableError is returned when no server answers at the
// configured address.
type ServerUnavailableError struct {
	Addr string
	Err  error
}

func (e *ServerUnavailableError) Error() string {
	return fmt.Sprintf("no kbtasks server at %s (start one with 'kbtasks serve'): %v", e.Addr, e.Err)
}

func (e *ServerUnavailableError) Unwrap() error {
	return e.Err
}

// DisplayError prints err in the format selected by jsonMode.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		_ = NewJSONErrorResponse(command, err).Write(w)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}
