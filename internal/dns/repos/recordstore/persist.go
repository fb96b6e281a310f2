package recordstore

import (
	"context"
	"time"
)

// changed is called after every state change: it saves now, or marks the
// store dirty for the next autosave tick.
func (s *Store) changed(ctx context.Context) {
	if s.autoSave > 0 {
		s.dirty.Store(true)
		return
	}
	s.persist(ctx)
}

// persist writes the full record set. Failures are logged and never undo the
// in-memory change.
func (s *Store) persist(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	// snapshot under persistMu so the last save always carries the newest state
	records := s.GetAllRecords()
	if err := s.repo.SaveAll(ctx, records); err != nil {
		s.logger.Error(map[string]any{"error": err, "count": len(records)}, "failed to save records to persistence")
		return
	}
	s.logger.Debug(map[string]any{"count": len(records)}, "saved records to persistence")
}

// Flush saves immediately if there are unsaved changes.
func (s *Store) Flush(ctx context.Context) {
	if s.dirty.CompareAndSwap(true, false) {
		s.persist(ctx)
	}
}

// RunAutoSave flushes pending changes every AutoSaveInterval until ctx is
// cancelled, then flushes once more. It returns immediately when autosave is
// disabled.
func (s *Store) RunAutoSave(ctx context.Context) {
	if s.autoSave <= 0 {
		return
	}
	ticker := time.NewTicker(s.autoSave)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}
