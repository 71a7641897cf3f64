package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"gopkg.in/guregu/null.v3"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning    RunStatus = "RUNNING"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusFailed     RunStatus = "FAILED"
	RunStatusTerminated RunStatus = "TERMINATED"
	RunStatusCancelled  RunStatus = "CANCELLED"
)

// AllRunStatuses lists every valid run status.
var AllRunStatuses = []RunStatus{
	RunStatusRunning,
	RunStatusCompleted,
	RunStatusFailed,
	RunStatusTerminated,
	RunStatusCancelled,
}

// ValidRunStatus reports whether s is a known run status.
func ValidRunStatus(s RunStatus) bool {
	for _, known := range AllRunStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// FieldSource says which JSON document a flattened field came from.
type FieldSource string

// Flattened field sources.
const (
	FieldSourceConfig         FieldSource = "config"
	FieldSourceSystemMetadata FieldSource = "systemMetadata"
)

// Run is one logged execution of a training or experiment job.
type Run struct {
	bun.BaseModel `bun:"table:runs,alias:r"`

	ID              int64                  `bun:"id,pk,autoincrement" db:"id" json:"id"`
	UUID            uuid.UUID              `bun:"uuid,type:uuid" db:"uuid" json:"uuid"`
	ProjectID       int64                  `bun:"project_id" db:"project_id" json:"projectId"`
	Name            string                 `bun:"name" db:"name" json:"name"`
	Status          RunStatus              `bun:"status" db:"status" json:"status"`
	Tags            []string               `bun:"tags,array" json:"tags"`
	Notes           null.String            `bun:"notes" db:"notes" json:"notes"`
	CreatorID       int64                  `bun:"creator_id" db:"creator_id" json:"creatorId"`
	Config          map[string]interface{} `bun:"config,type:jsonb" json:"config"`
	SystemMetadata  map[string]interface{} `bun:"system_metadata,type:jsonb" json:"systemMetadata"`
	CreatedAt       time.Time              `bun:"created_at,nullzero,default:now()" db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time              `bun:"updated_at,nullzero,default:now()" db:"updated_at" json:"updatedAt"`
	StatusUpdatedAt time.Time              `bun:"status_updated_at,nullzero,default:now()" db:"status_updated_at" json:"statusUpdatedAt"`
}

// RunFieldValue is one flattened leaf of a run's config or system metadata,
// kept so arbitrary nested fields can be filtered and sorted in Postgres.
// Exactly one row exists per (run, source, key); the run's whole row set is
// replaced atomically whenever the source document changes.
type RunFieldValue struct {
	bun.BaseModel `bun:"table:run_field_values,alias:fv"`

	ID          int64       `bun:"id,pk,autoincrement"`
	RunID       int64       `bun:"run_id"`
	ProjectID   int64       `bun:"project_id"`
	Source      FieldSource `bun:"source"`
	Key         string      `bun:"key"`
	Value       string      `bun:"value"`
	NumberValue null.Float  `bun:"number_value"`
	DataType    string      `bun:"data_type"`
}

// ProjectFieldKey is the per-project registry of distinct flattened keys, used
// to populate filter pickers. Append-only; the first writer wins on type.
type ProjectFieldKey struct {
	bun.BaseModel `bun:"table:project_field_keys,alias:pfk"`

	ProjectID int64       `bun:"project_id"`
	Source    FieldSource `bun:"source"`
	Key       string      `bun:"key"`
	DataType  string      `bun:"data_type"`
}

// Project groups runs. Runs belong to exactly one project.
type Project struct {
	bun.BaseModel `bun:"table:projects,alias:p"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	OrgID     int64     `bun:"org_id" json:"orgId"`
	Name      string    `bun:"name" json:"name"`
	CreatedAt time.Time `bun:"created_at,nullzero,default:now()" json:"createdAt"`
}

// User is a run creator reference. Only the naming columns matter here;
// account management is out of scope.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID          int64       `bun:"id,pk,autoincrement" json:"id"`
	Username    string      `bun:"username" json:"username"`
	DisplayName null.String `bun:"display_name" json:"displayName"`
}
