// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollNextGrowsToCap(t *testing.T) {
	p := Poll{Initial: time.Second, Max: 4 * time.Second, Growth: 1.5}

	want := []time.Duration{
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		4 * time.Second,
		4 * time.Second,
	}

	cur := p.Initial
	for i, w := range want {
		cur = p.Next(cur)
		if cur != w {
			t.Errorf("step %d: expected %v, got %v", i, w, cur)
		}
	}
}

func TestPollNextNonDecreasing(t *testing.T) {
	p := Poll{Initial: time.Second, Max: 30 * time.Second, Growth: 0.5}
	if got := p.Next(time.Second); got != time.Second {
		t.Errorf("growth below 1 must not shrink the interval, got %v", got)
	}
}

func TestPollPerturb(t *testing.T) {
	tests := []struct {
		name string
		rand float64
		want time.Duration
	}{
		{"midpoint is exact", 0.5, 10 * time.Second},
		{"low end", 0.0, 9 * time.Second},
		{"high end", 1.0, 11 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.rand
			p := Poll{Jitter: 0.2, Rand: func() float64 { return r }}
			if got := p.Perturb(10 * time.Second); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPollPerturbZeroJitter(t *testing.T) {
	p := Poll{Rand: func() float64 { t.Fatal("rand should not be consulted"); return 0 }}
	if got := p.Perturb(3 * time.Second); got != 3*time.Second {
		t.Errorf("expected unchanged interval, got %v", got)
	}
}

func TestRetryDelay(t *testing.T) {
	r := Retry{Base: 100 * time.Millisecond, Factor: 2}

	for i, want := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	} {
		if got := r.Delay(i); got != want {
			t.Errorf("Delay(%d) = %v, want %v", i, got, want)
		}
	}

	// No cap
	if got := r.Delay(20); got != 100*time.Millisecond*(1<<20) {
		t.Errorf("Delay(20) = %v, expected uncapped growth", got)
	}
}

func TestSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Sleep should return promptly on cancellation")
	}
}

func TestSleepCompletes(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
