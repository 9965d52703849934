// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// JSON ENCODING
// =============================================================================

// taskJSON is the persisted shape of a Task.
type taskJSON struct {
	ID           string          `json:"id"`
	Type         Type            `json:"type"`
	Status       Status          `json:"status"`
	Title        string          `json:"title"`
	Data         json.RawMessage `json:"data"`
	Progress     int             `json:"progress"`
	ProgressData *ProgressData   `json:"progressData,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	JobID        string          `json:"jobId,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t Task) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(t.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t.Type, err)
	}
	return json.Marshal(taskJSON{
		ID:           t.ID,
		Type:         t.Type,
		Status:       t.Status,
		Title:        t.Title,
		Data:         data,
		Progress:     t.Progress,
		ProgressData: t.ProgressData,
		Error:        t.Error,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		JobID:        t.JobID,
	})
}

// UnmarshalJSON implements json.Unmarshaler. It rejects records without an
// id, with an unknown type or status, or whose payload does not decode.
func (t *Task) UnmarshalJSON(b []byte) error {
	var raw taskJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return errors.New("invalid task: missing id")
	}
	if !raw.Type.Valid() {
		return fmt.Errorf("invalid task type %q", raw.Type)
	}
	if !raw.Status.Valid() {
		return fmt.Errorf("invalid task status %q", raw.Status)
	}
	data, err := DecodeData(raw.Type, raw.Data)
	if err != nil {
		return err
	}

	*t = Task{
		ID:           raw.ID,
		Type:         raw.Type,
		Status:       raw.Status,
		Title:        raw.Title,
		Data:         data,
		Progress:     raw.Progress,
		ProgressData: raw.ProgressData,
		Error:        raw.Error,
		CreatedAt:    raw.CreatedAt,
		StartedAt:    raw.StartedAt,
		CompletedAt:  raw.CompletedAt,
		JobID:        raw.JobID,
	}
	return nil
}

// =============================================================================
// LIST SERIALIZATION
// =============================================================================

// Serialize encodes an ordered task list.
func Serialize(list []Task) ([]byte, error) {
	if list == nil {
		list = []Task{}
	}
	return json.Marshal(list)
}

// Deserialize decodes a persisted task list. It never fails: unreadable
// input yields an empty list, and individual malformed or duplicate entries
// are dropped while the rest are kept in order.
func Deserialize(b []byte) []Task {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return []Task{}
	}

	out := make([]Task, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		var t Task
		if err := json.Unmarshal(entry, &t); err != nil {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}
