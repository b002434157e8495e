package fetcher

import (
	"context"
	"log/slog"
	"time"
)

// ScheduleUpdates starts a periodic fetch every update interval. A tick
// that arrives while a previous scheduled fetch is still running is dropped.
// Calling ScheduleUpdates while a schedule is already running is a no-op.
func (f *Fetcher) ScheduleUpdates() {
	f.schedMu.Lock()
	defer f.schedMu.Unlock()

	if f.schedStop != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.schedStop = cancel
	f.schedDone = make(chan struct{})

	interval := f.cfg.GetUpdateInterval()
	f.logger.Info("scheduled bundle updates", slog.Duration("interval", interval))

	go func() {
		defer close(f.schedDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.tick(ctx)
			}
		}
	}()
}

// tick runs one scheduled fetch unless one is already in flight.
func (f *Fetcher) tick(ctx context.Context) {
	if !f.inFlight.TryLock() {
		f.logger.Info("skipping scheduled fetch, previous fetch still running")
		return
	}
	defer f.inFlight.Unlock()

	res, err := f.Fetch(ctx, true)
	if err != nil {
		f.logger.Warn("scheduled fetch failed", "error", err)
		return
	}
	if res.Changed {
		f.logger.Info("scheduled fetch found new bundle", slog.String("version", res.Version))
		if f.onUpdate != nil {
			f.onUpdate(ctx, res)
		}
	}
}

// StopScheduledUpdates cancels the schedule and any in-flight scheduled
// fetch, then waits for the scheduler goroutine to exit.
func (f *Fetcher) StopScheduledUpdates() {
	f.schedMu.Lock()
	stop := f.schedStop
	done := f.schedDone
	f.schedStop = nil
	f.schedDone = nil
	f.schedMu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
	f.logger.Info("stopped scheduled bundle updates")
}
