// Package watcher follows a local documentation directory and triggers
// incremental index runs when its documents change.
//
// fsnotify is the primary mechanism; directories where it cannot be set up
// (network mounts, some container volumes) fall back to polling. Events are
// debounced so an editor save or a git checkout produces one batch, and
// Loop turns batches into serialized index runs.
//
// Usage:
//
//	w, err := watcher.New(watcher.Options{Include: []string{"**/*.md"}})
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go func() { _ = w.Start(ctx, root) }()
//
//	return watcher.Loop(ctx, w.Events(), func(ctx context.Context, batch []watcher.FileEvent) error {
//	    _, err := indexer.Run(ctx, index.Options{})
//	    return err
//	}, logger)
package watcher
