// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"sort"
	"time"
)

// Retention bounds how many terminal tasks are kept.
type Retention struct {
	// Cap is the maximum number of terminal tasks (0 or less = unlimited).
	Cap int
}

// Excess returns the IDs of the terminal tasks to evict so that at most Cap
// remain. The oldest by CompletedAt go first; ties keep list order.
// Pending and running tasks are never selected.
func (r Retention) Excess(list []Task) []string {
	if r.Cap <= 0 {
		return nil
	}

	type candidate struct {
		id        string
		completed time.Time
		pos       int
	}
	terminal := make([]candidate, 0)
	for i, t := range list {
		if !t.Status.Terminal() {
			continue
		}
		c := candidate{id: t.ID, pos: i}
		if t.CompletedAt != nil {
			c.completed = *t.CompletedAt
		}
		terminal = append(terminal, c)
	}
	if len(terminal) <= r.Cap {
		return nil
	}

	sort.SliceStable(terminal, func(i, j int) bool {
		if terminal[i].completed.Equal(terminal[j].completed) {
			return terminal[i].pos < terminal[j].pos
		}
		return terminal[i].completed.Before(terminal[j].completed)
	})

	n := len(terminal) - r.Cap
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = terminal[i].id
	}
	return ids
}
