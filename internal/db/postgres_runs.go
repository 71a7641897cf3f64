package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/pkg/errors"
	"gopkg.in/guregu/null.v3"

	"github.com/runboard-ai/runboard/pkg/model"
)

// RunColumns is the fixed hydration column list for raw run search queries.
// Queries built against it must alias the runs table as "r".
const RunColumns = `r.id, r.uuid, r.project_id, r.name, r.status, r.tags, r.notes,
	r.creator_id, r.config, r.system_metadata, r.created_at, r.updated_at, r.status_updated_at`

// RunWithSortValue is a hydrated run plus the textual sort-column value the
// row was ordered by, when the executed query projected one.
type RunWithSortValue struct {
	Run       model.Run
	SortValue null.String
}

// runRow is the sqlx scan target for raw run queries.
type runRow struct {
	ID              int64            `db:"id"`
	UUID            uuid.UUID        `db:"uuid"`
	ProjectID       int64            `db:"project_id"`
	Name            string           `db:"name"`
	Status          model.RunStatus  `db:"status"`
	Tags            pgtype.TextArray `db:"tags"`
	Notes           null.String      `db:"notes"`
	CreatorID       int64            `db:"creator_id"`
	Config          []byte           `db:"config"`
	SystemMetadata  []byte           `db:"system_metadata"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
	StatusUpdatedAt time.Time        `db:"status_updated_at"`
	SortValue       null.String      `db:"sort_value"`
}

func (r runRow) toRun() (model.Run, error) {
	run := model.Run{
		ID:              r.ID,
		UUID:            r.UUID,
		ProjectID:       r.ProjectID,
		Name:            r.Name,
		Status:          r.Status,
		Notes:           r.Notes,
		CreatorID:       r.CreatorID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		StatusUpdatedAt: r.StatusUpdatedAt,
	}
	if err := r.Tags.AssignTo(&run.Tags); err != nil {
		return model.Run{}, errors.Wrapf(err, "scanning tags for run %d", r.ID)
	}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &run.Config); err != nil {
			return model.Run{}, errors.Wrapf(err, "unmarshaling config for run %d", r.ID)
		}
	}
	if len(r.SystemMetadata) > 0 {
		if err := json.Unmarshal(r.SystemMetadata, &run.SystemMetadata); err != nil {
			return model.Run{}, errors.Wrapf(err, "unmarshaling system metadata for run %d", r.ID)
		}
	}
	return run, nil
}

// SelectRuns executes a rendered run search query whose projection starts with
// RunColumns, returning hydrated runs with any projected sort value.
func (db *PgDB) SelectRuns(
	ctx context.Context, query string, args ...interface{},
) ([]RunWithSortValue, error) {
	var rows []runRow
	if err := db.sql.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "executing run search query")
	}
	out := make([]RunWithSortValue, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		out = append(out, RunWithSortValue{Run: run, SortValue: row.SortValue})
	}
	return out, nil
}

// SelectRunIDs executes a rendered query projecting only run IDs.
func (db *PgDB) SelectRunIDs(
	ctx context.Context, query string, args ...interface{},
) ([]int64, error) {
	var ids []int64
	if err := db.sql.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, errors.Wrap(err, "executing run id query")
	}
	return ids, nil
}

// RunsByIDs hydrates the given runs. The result carries no ordering guarantee;
// callers needing a specific order must reorder in memory.
func (db *PgDB) RunsByIDs(ctx context.Context, ids []int64) ([]model.Run, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	arr := &pgtype.Int8Array{}
	if err := arr.Set(ids); err != nil {
		return nil, errors.Wrap(err, "binding run id list")
	}
	rows, err := db.SelectRuns(ctx,
		`SELECT `+RunColumns+` FROM runs r WHERE r.id = ANY($1)`, arr)
	if err != nil {
		return nil, err
	}
	runs := make([]model.Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.Run)
	}
	return runs, nil
}

// RunByID fetches a single run, returning ErrNotFound when it does not exist.
func (db *PgDB) RunByID(ctx context.Context, id int64) (model.Run, error) {
	rows, err := db.SelectRuns(ctx,
		`SELECT `+RunColumns+` FROM runs r WHERE r.id = $1`, id)
	if err != nil {
		return model.Run{}, err
	}
	if len(rows) == 0 {
		return model.Run{}, ErrNotFound
	}
	return rows[0].Run, nil
}

// ProjectIDByName resolves a project name inside an org to its ID, returning
// ErrNotFound when no such project exists.
func ProjectIDByName(ctx context.Context, orgID int64, name string) (int64, error) {
	var project model.Project
	err := Bun().NewSelect().Model(&project).
		Column("p.id").
		Where("p.org_id = ?", orgID).
		Where("p.name = ?", name).
		Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, ErrNotFound
	case err != nil:
		return 0, errors.Wrapf(err, "looking up project %q", name)
	}
	return project.ID, nil
}

// CreateRun inserts a new run, generating a UUID and, when the caller supplied
// no name, a readable two-word default. The config and system metadata are
// indexed fire-and-forget after the insert commits.
func CreateRun(ctx context.Context, run *model.Run) error {
	if run.Name == "" {
		run.Name = petname.Generate(2, "-")
	}
	run.UUID = uuid.New()
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
	if _, err := Bun().NewInsert().Model(run).
		ExcludeColumn("created_at", "updated_at", "status_updated_at").
		Returning("id, created_at, updated_at, status_updated_at").
		Exec(ctx); err != nil {
		return errors.Wrapf(err, "inserting run %q", run.Name)
	}

	IndexRunFields(ctx, run.ProjectID, run.ID, run.Config, run.SystemMetadata)
	return nil
}

// UpdateRunStatus transitions a run's status and stamps status_updated_at.
func UpdateRunStatus(ctx context.Context, runID int64, status model.RunStatus) error {
	if !model.ValidRunStatus(status) {
		return errors.Errorf("invalid run status %q", status)
	}
	res, err := Bun().NewUpdate().Model((*model.Run)(nil)).
		Set("status = ?", status).
		Set("status_updated_at = now()").
		Set("updated_at = now()").
		Where("id = ?", runID).
		Exec(ctx)
	if err != nil {
		return errors.Wrapf(err, "updating status of run %d", runID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DistinctProjectKeys returns the registry of flattened keys seen for a
// project, ordered by source then key, for filter-picker population.
func DistinctProjectKeys(ctx context.Context, projectID int64) ([]model.ProjectFieldKey, error) {
	var keys []model.ProjectFieldKey
	err := Bun().NewSelect().Model(&keys).
		Where("pfk.project_id = ?", projectID).
		OrderExpr("pfk.source ASC, pfk.key ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "listing field keys for project %d", projectID)
	}
	return keys, nil
}
