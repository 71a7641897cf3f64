package runs

import (
	"github.com/runboard-ai/runboard/internal/metrics"
	"github.com/runboard-ai/runboard/pkg/model"
)

// Sort sources.
const (
	SortSourceSystem         = "system"
	SortSourceConfig         = "config"
	SortSourceSystemMetadata = "systemMetadata"
	SortSourceMetric         = "metric"
)

// DateFilter filters one of the run timestamp columns.
type DateFilter struct {
	Field    string `json:"field"` // createdAt, updatedAt, statusUpdatedAt
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Value2   string `json:"value2,omitempty"`
}

// FieldFilter filters an arbitrary flattened config/metadata field.
type FieldFilter struct {
	Source   model.FieldSource `json:"source"`
	Key      string            `json:"key"`
	DataType string            `json:"dataType"` // text, number, date, option
	Operator string            `json:"operator"`
	Values   []string          `json:"values"`
}

// SystemFilter filters one of the fixed run columns with full operator
// semantics (name, notes, status, tags, creator).
type SystemFilter struct {
	Field    string   `json:"field"`
	Operator string   `json:"operator"`
	Values   []string `json:"values"`
}

// MetricFilter restricts runs by a metric aggregate condition; always
// resolved through the columnar store.
type MetricFilter struct {
	LogName     string              `json:"logName"`
	Aggregation metrics.Aggregation `json:"aggregation"`
	Operator    string              `json:"operator"`
	Values      []string            `json:"values"`
}

// SortSpec requests a custom ordering.
type SortSpec struct {
	Field       string              `json:"field"`
	Source      string              `json:"source"`
	Direction   string              `json:"direction"` // asc, desc
	Aggregation metrics.Aggregation `json:"aggregation,omitempty"`
}

// SearchRequest is the single entry point request for run search.
type SearchRequest struct {
	OrgID       int64  `json:"orgId"`
	ProjectID   *int64 `json:"projectId,omitempty"`
	ProjectName string `json:"projectName,omitempty"`

	Search        string            `json:"search,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Statuses      []model.RunStatus `json:"statuses,omitempty"`
	DateFilters   []DateFilter      `json:"dateFilters,omitempty"`
	FieldFilters  []FieldFilter     `json:"fieldFilters,omitempty"`
	SystemFilters []SystemFilter    `json:"systemFilters,omitempty"`
	MetricFilters []MetricFilter    `json:"metricFilters,omitempty"`

	Sort  *SortSpec `json:"sort,omitempty"`
	Limit int       `json:"limit,omitempty"`

	// Exactly one continuation token may be set, and it must match the
	// strategy that produced it.
	Cursor     *int64 `json:"cursor,omitempty"`
	SortCursor string `json:"sortCursor,omitempty"`
	Offset     *int   `json:"offset,omitempty"`
}

// SearchResponse is one page of runs plus the strategy-specific continuation
// token; a nil token signals end of results.
type SearchResponse struct {
	Runs       []model.Run `json:"runs"`
	NextCursor *int64      `json:"nextCursor,omitempty"`
	SortCursor *string     `json:"sortCursor,omitempty"`
	NextOffset *int        `json:"nextOffset,omitempty"`
}

// hasRelationalFilters reports whether any filter must be applied in the
// relational store (free-text search aside).
func (r *SearchRequest) hasRelationalFilters() bool {
	return len(r.Tags) > 0 ||
		len(r.Statuses) > 0 ||
		len(r.DateFilters) > 0 ||
		len(r.FieldFilters) > 0 ||
		len(r.SystemFilters) > 0
}
