// Package watcher observes a drop-folder root laid out as
// <root>/<department>/<file> and reports debounced batches of document
// changes.
//
// fsnotify is used where available, with a polling fallback for network
// mounts and containers where inotify is unreliable. Rapid changes to the
// same file are coalesced (see Debouncer) so an editor save or a large copy
// yields one event per file.
//
// Usage:
//
//	w, err := watcher.NewDropFolderWatcher(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go w.Start(ctx, "/srv/aipl/inbox")
//	for batch := range w.Events() {
//	    for _, ev := range batch {
//	        // ev.Department, ev.Name, ev.Operation
//	    }
//	}
package watcher
