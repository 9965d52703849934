// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapters

import (
	"context"

	"github.com/jeranaias/kbtasks/internal/retry"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// step is the interpretation of one status check.
type step struct {
	done    bool
	outcome tasks.Outcome
}

var keepPolling = step{}

func finished(o tasks.Outcome) step {
	return step{done: true, outcome: o}
}

// pollUntilDone sleeps, checks and grows the interval until check reports a
// final step or ctx is cancelled. Transient check errors advance the
// interval like a normal poll; terminal ones end the attempt at once.
func pollUntilDone(ctx context.Context, typ tasks.Type, opts Options, check func(ctx context.Context) (step, error)) (tasks.Outcome, error) {
	interval := opts.Poll.Initial
	consecutiveErrors := 0

	for {
		if err := opts.Sleep(ctx, opts.Poll.Perturb(interval)); err != nil {
			return tasks.Outcome{}, tasks.ErrCanceled
		}

		st, err := check(ctx)
		if opts.OnPoll != nil {
			opts.OnPoll(typ, err == nil)
		}
		if err != nil {
			if ctx.Err() != nil {
				return tasks.Outcome{}, tasks.ErrCanceled
			}
			consecutiveErrors++
			if consecutiveErrors > opts.MaxPollErrors || retry.Classify(err.Error()) == retry.Terminal {
				return tasks.Failed(err.Error()), nil
			}
			opts.Logger.Printf("Status check failed (%d/%d): %v", consecutiveErrors, opts.MaxPollErrors, err)
			interval = opts.Poll.Next(interval)
			continue
		}

		consecutiveErrors = 0
		if st.done {
			return st.outcome, nil
		}
		interval = opts.Poll.Next(interval)
	}
}
