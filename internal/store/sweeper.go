// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is used when the sweeper is given no interval.
const DefaultSweepInterval = time.Minute

// Sweeper periodically removes expired records from a Store.
type Sweeper struct {
	store    Store
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// NewSweeper creates a sweeper. Start launches it.
func NewSweeper(s Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: s, interval: interval}
}

// Start runs the sweeper on its own goroutine until ctx is cancelled or
// Stop is called.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)
	sw.done = make(chan struct{})
	go func() {
		defer close(sw.done)
		sw.Run(ctx)
	}()
}

// Stop cancels the sweeper and waits for it to exit.
func (sw *Sweeper) Stop() {
	sw.once.Do(func() {
		if sw.cancel == nil {
			return
		}
		sw.cancel()
		<-sw.done
	})
}

// Run blocks, sweeping on every tick, until ctx is done.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sw.Sweep(ctx); err != nil {
				slog.Error("otp_sweep_failed", "error", err)
			}
		}
	}
}

// Sweep runs a single pass. A panic inside the store is recovered and
// returned as an error so the schedule keeps going.
func (sw *Sweeper) Sweep(ctx context.Context) (removed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()

	removed, err = sw.store.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.Debug("otp_sweep", "removed", removed)
	}
	return removed, nil
}
