package binding

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reports changes to the bind file made by anyone (this process, an
// external bind request, an operator editing the file). Notifications are
// coalesced: the channel has capacity one and a pending signal is never
// duplicated. The channel is closed when ctx is done.
//
// The parent directory is watched rather than the file, because an atomic
// replace swaps the inode and a removed file cannot be watched.
func (s *Store) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("binding: watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("binding: watch %s: %w", dir, err)
	}

	name := filepath.Clean(s.path)
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
					!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("binding: watch error", "error", err)
			}
		}
	}()
	return out, nil
}
