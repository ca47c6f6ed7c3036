package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"canvashub/internal/store"
)

// Archiver periodically serializes every canvas's event history and
// uploads it as a single JSON document, for off-box backup. This
// supplements, but does not replace, the event store's own durability —
// there is still no log compaction.
type Archiver struct {
	store    *store.Store
	s3       *S3Service
	interval time.Duration
	log      *zap.SugaredLogger
}

// NewArchiver builds an Archiver.
func NewArchiver(s *store.Store, s3 *S3Service, interval time.Duration, log *zap.SugaredLogger) *Archiver {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Archiver{store: s, s3: s3, interval: interval, log: log}
}

// Run ticks until ctx is cancelled, archiving every known canvas on each
// tick. Intended to run in its own goroutine for the process lifetime.
func (a *Archiver) Run(ctx context.Context, canvasIDs func(context.Context) ([]string, error)) {
	a.log.Infow("snapshot archiver starting", "interval", a.interval)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Infow("snapshot archiver stopping")
			return
		case <-ticker.C:
			ids, err := canvasIDs(ctx)
			if err != nil {
				a.log.Warnw("failed to list canvases for archiving", "error", err)
				continue
			}
			for _, id := range ids {
				if err := a.ArchiveOne(ctx, id); err != nil {
					a.log.Warnw("failed to archive canvas", "canvas_id", id, "error", err)
				}
			}
		}
	}
}

// ArchiveOne serializes and uploads one canvas's full event history.
func (a *Archiver) ArchiveOne(ctx context.Context, canvasID string) error {
	blobs, err := a.store.ReadHistory(ctx, canvasID)
	if err != nil {
		return fmt.Errorf("archive: failed to read history for %q: %w", canvasID, err)
	}

	data, err := json.Marshal(blobs)
	if err != nil {
		return fmt.Errorf("archive: failed to marshal snapshot for %q: %w", canvasID, err)
	}

	key := fmt.Sprintf("canvases/%s/%d.json", canvasID, time.Now().Unix())
	return a.s3.UploadJSON(ctx, key, data)
}
