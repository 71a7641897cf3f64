package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"gopkg.in/guregu/null.v3"

	"github.com/runboard-ai/runboard/pkg/flatten"
	"github.com/runboard-ai/runboard/pkg/model"
)

// flattenRunFields flattens both source documents into index rows. Reserved
// key prefixes are dropped from config only; system metadata keeps them.
func flattenRunFields(
	projectID, runID int64, config, systemMetadata map[string]interface{},
) ([]model.RunFieldValue, []model.ProjectFieldKey) {
	var values []model.RunFieldValue
	var keys []model.ProjectFieldKey
	add := func(source model.FieldSource, fields []flatten.Field) {
		for _, f := range fields {
			number := null.Float{}
			if f.Number != nil {
				number = null.FloatFrom(*f.Number)
			}
			values = append(values, model.RunFieldValue{
				RunID:       runID,
				ProjectID:   projectID,
				Source:      source,
				Key:         f.Key,
				Value:       f.Value,
				NumberValue: number,
				DataType:    string(f.Type),
			})
			keys = append(keys, model.ProjectFieldKey{
				ProjectID: projectID,
				Source:    source,
				Key:       f.Key,
				DataType:  string(f.Type),
			})
		}
	}
	add(model.FieldSourceConfig, flatten.Fields(toInterface(config), true))
	add(model.FieldSourceSystemMetadata, flatten.Fields(toInterface(systemMetadata), false))
	return values, keys
}

func toInterface(m map[string]interface{}) interface{} {
	if m == nil {
		return nil
	}
	return m
}

// UpsertRunFieldIndex rebuilds the flattened field index for one run: registry
// keys are appended with duplicate-skip, and the run's value rows are replaced
// delete-then-insert inside a single transaction so a partial replacement is
// never observable. When both documents flatten to nothing, no write happens
// at all.
func UpsertRunFieldIndex(
	ctx context.Context,
	projectID, runID int64,
	config, systemMetadata map[string]interface{},
) error {
	values, keys := flattenRunFields(projectID, runID, config, systemMetadata)
	if len(values) == 0 {
		return nil
	}

	return Bun().RunInTx(
		ctx,
		&sql.TxOptions{Isolation: sql.LevelReadCommitted},
		func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.NewInsert().Model(&keys).
				On("CONFLICT (project_id, source, key) DO NOTHING").
				Exec(ctx); err != nil {
				return errors.Wrapf(err, "registering field keys for project %d", projectID)
			}

			if _, err := tx.NewDelete().Model((*model.RunFieldValue)(nil)).
				Where("run_id = ?", runID).
				Exec(ctx); err != nil {
				return errors.Wrapf(err, "deleting field values for run %d", runID)
			}
			if _, err := tx.NewInsert().Model(&values).Exec(ctx); err != nil {
				return errors.Wrapf(err, "inserting field values for run %d", runID)
			}
			return nil
		},
	)
}

// IndexRunFields is the fire-and-forget form of UpsertRunFieldIndex used on
// the run ingestion path. Failures are logged, never propagated; indexing must
// not block or fail run creation.
func IndexRunFields(
	ctx context.Context,
	projectID, runID int64,
	config, systemMetadata map[string]interface{},
) {
	if err := UpsertRunFieldIndex(ctx, projectID, runID, config, systemMetadata); err != nil {
		log.WithError(err).
			WithFields(log.Fields{"run_id": runID, "project_id": projectID}).
			Error("failed to index run fields")
	}
}
