package db

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/runboard-ai/runboard/pkg/model"
)

const backfillConcurrency = 8

// BackfillFieldIndex walks every run in ascending ID order, in bounded
// batches, and rebuilds its flattened field index. The returned cursor is the
// highest run ID fully processed; restarting with it neither skips nor
// reprocesses runs. Per-run failures are collected rather than aborting the
// walk, since the rebuild is idempotent and safe to re-run.
func BackfillFieldIndex(ctx context.Context, afterID int64, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	cursor := afterID
	var failuresMu sync.Mutex
	var failures error

	for {
		var batch []model.Run
		err := Bun().NewSelect().Model(&batch).
			Column("r.id", "r.project_id", "r.config", "r.system_metadata").
			Where("r.id > ?", cursor).
			OrderExpr("r.id ASC").
			Limit(batchSize).
			Scan(ctx)
		if err != nil {
			return cursor, err
		}
		if len(batch) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(backfillConcurrency)
		for _, run := range batch {
			run := run
			g.Go(func() error {
				if err := UpsertRunFieldIndex(
					gctx, run.ProjectID, run.ID, run.Config, run.SystemMetadata,
				); err != nil {
					failuresMu.Lock()
					failures = multierror.Append(failures, err)
					failuresMu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return cursor, err
		}

		// The cursor only advances once the whole batch has been attempted.
		cursor = batch[len(batch)-1].ID
		log.WithField("cursor", cursor).Debugf("backfilled field index for %d runs", len(batch))
	}
	return cursor, failures
}
