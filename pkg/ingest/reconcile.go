package ingest

import (
	"context"
	"time"

	"github.com/lifetrace-ai/lifetrace/pkg/notify"
)

// Reconcile lists recently modified audio objects and ingests any that never
// made it through the notification queue. Safe to run concurrently with live
// ingest; the (bucket, key) uniqueness constraint absorbs races.
func (w *Worker) Reconcile(ctx context.Context, bucket, prefix string) error {
	since := time.Now().Add(-w.cfg.ReconcileLookback)
	infos, err := w.objects.List(ctx, prefix, since)
	if err != nil {
		return err
	}

	recovered := 0
	for _, info := range infos {
		username, filename, err := notify.SplitAudioKey(info.Key)
		if err != nil {
			continue // foreign object under the prefix
		}
		exists, err := w.files.ExistsByObject(ctx, bucket, info.Key)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		w.logger.Warn("recovering dropped notification", "key", info.Key)
		if err := w.HandleUpload(ctx, notify.Upload{
			Bucket:   bucket,
			Key:      info.Key,
			Username: username,
			Filename: filename,
			Size:     info.Size,
		}); err != nil {
			w.logger.Error("reconcile ingest failed", "key", info.Key, "error", err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		w.logger.Info("reconciliation recovered segments", "count", recovered)
	}
	return nil
}

// RunReconcileLoop sweeps on the given interval until the context ends.
func (w *Worker) RunReconcileLoop(ctx context.Context, bucket, prefix string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Reconcile(ctx, bucket, prefix); err != nil {
				w.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}
