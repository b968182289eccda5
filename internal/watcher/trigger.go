package watcher

import (
	"context"
	"log/slog"
)

// RunFunc performs one index run for a batch of changes.
type RunFunc func(ctx context.Context, batch []FileEvent) error

// Loop calls run for each batch from events, one call at a time. Batches
// that arrive while a run is in progress are merged into a single follow-up
// run. A failed run is logged and the loop continues. Loop returns when ctx
// is canceled or events is closed.
func Loop(ctx context.Context, events <-chan []FileEvent, run RunFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan error, 1)
	var pending []FileEvent
	running := false

	start := func(batch []FileEvent) {
		running = true
		logger.Info("watch_reindex_triggered", slog.Int("changes", len(batch)))
		go func() { done <- run(ctx, batch) }()
	}

	for {
		select {
		case <-ctx.Done():
			if running {
				<-done
			}
			return ctx.Err()

		case batch, ok := <-events:
			if !ok {
				if running {
					<-done
				}
				return nil
			}
			if running {
				pending = append(pending, batch...)
				continue
			}
			start(batch)

		case err := <-done:
			running = false
			if err != nil && ctx.Err() == nil {
				logger.Warn("watch_reindex_failed", slog.String("error", err.Error()))
			}
			if len(pending) > 0 {
				batch := pending
				pending = nil
				start(batch)
			}
		}
	}
}
