package runs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runboard-ai/runboard/pkg/model"
	"github.com/runboard-ai/runboard/pkg/ptrs"
)

func renderFilters(t *testing.T, req *SearchRequest, projectID *int64) (string, []interface{}, bool) {
	t.Helper()
	bf := buildRelationalFilters(req, projectID, false)
	where, args, _ := bf.clauses.Render(1)
	return where, args, bf.needsUserJoin
}

func TestBuildRelationalFiltersBasics(t *testing.T) {
	cases := []struct {
		description string
		req         SearchRequest
		projectID   *int64
		wantWhere   string
		wantArgs    []interface{}
	}{
		{
			description: "project scope only",
			projectID:   ptrs.Ptr(int64(3)),
			wantWhere:   "(r.project_id = $1)",
			wantArgs:    []interface{}{int64(3)},
		},
		{
			description: "tag overlap",
			req:         SearchRequest{Tags: []string{"v1", "v2"}},
			wantWhere:   "(r.tags && $1)",
			wantArgs:    []interface{}{textArray([]string{"v1", "v2"})},
		},
		{
			description: "status list",
			req:         SearchRequest{Statuses: []model.RunStatus{model.RunStatusRunning}},
			wantWhere:   "(r.status = ANY($1))",
			wantArgs:    []interface{}{textArray([]string{"RUNNING"})},
		},
		{
			description: "invalid statuses dropped",
			req:         SearchRequest{Statuses: []model.RunStatus{"BOGUS"}},
			wantWhere:   "",
			wantArgs:    nil,
		},
		{
			description: "date between binds both bounds",
			req: SearchRequest{DateFilters: []DateFilter{{
				Field: "createdAt", Operator: "between",
				Value: "2026-01-01", Value2: "2026-02-01",
			}}},
			wantWhere: "(r.created_at >= $1 AND r.created_at <= $2)",
			wantArgs:  []interface{}{"2026-01-01", "2026-02-01"},
		},
		{
			description: "unknown date field dropped",
			req: SearchRequest{DateFilters: []DateFilter{{
				Field: "launchedAt", Operator: "before", Value: "2026-01-01",
			}}},
			wantWhere: "",
		},
		{
			description: "unknown date operator dropped",
			req: SearchRequest{DateFilters: []DateFilter{{
				Field: "createdAt", Operator: "around", Value: "2026-01-01",
			}}},
			wantWhere: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.description, func(t *testing.T) {
			where, args, _ := renderFilters(t, &tc.req, tc.projectID)
			require.Equal(t, tc.wantWhere, where)
			require.Equal(t, tc.wantArgs, args)
		})
	}
}

func TestSystemFilterNegationIsNullSafe(t *testing.T) {
	cases := []struct {
		description string
		filter      SystemFilter
		wantWhere   string
		wantArgs    []interface{}
	}{
		{
			description: "notes does not contain matches NULL notes",
			filter:      SystemFilter{Field: "notes", Operator: "does not contain", Values: []string{"wip"}},
			wantWhere:   "((r.notes IS NULL OR r.notes NOT ILIKE $1))",
			wantArgs:    []interface{}{"%wip%"},
		},
		{
			description: "name is not matches NULL name",
			filter:      SystemFilter{Field: "name", Operator: "is not", Values: []string{"train-a"}},
			wantWhere:   "((r.name IS NULL OR r.name != $1))",
			wantArgs:    []interface{}{"train-a"},
		},
		{
			description: "name contains",
			filter:      SystemFilter{Field: "name", Operator: "contains", Values: []string{"train"}},
			wantWhere:   "(r.name ILIKE $1)",
			wantArgs:    []interface{}{"%train%"},
		},
		{
			description: "name starts with",
			filter:      SystemFilter{Field: "name", Operator: "starts with", Values: []string{"tr"}},
			wantWhere:   "(r.name LIKE $1)",
			wantArgs:    []interface{}{"tr%"},
		},
		{
			description: "tags exclude",
			filter:      SystemFilter{Field: "tags", Operator: "exclude", Values: []string{"v1"}},
			wantWhere:   "(NOT ($1 = ANY(r.tags)))",
			wantArgs:    []interface{}{"v1"},
		},
		{
			description: "tags include all of",
			filter:      SystemFilter{Field: "tags", Operator: "include all of", Values: []string{"v1", "v2"}},
			wantWhere:   "(r.tags @> $1)",
			wantArgs:    []interface{}{textArray([]string{"v1", "v2"})},
		},
		{
			description: "status is none of",
			filter:      SystemFilter{Field: "status", Operator: "is none of", Values: []string{"FAILED"}},
			wantWhere:   "(NOT (r.status = ANY($1)))",
			wantArgs:    []interface{}{textArray([]string{"FAILED"})},
		},
		{
			description: "unknown operator dropped",
			filter:      SystemFilter{Field: "name", Operator: "sounds like", Values: []string{"x"}},
			wantWhere:   "",
		},
		{
			description: "empty values dropped",
			filter:      SystemFilter{Field: "name", Operator: "is", Values: nil},
			wantWhere:   "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.description, func(t *testing.T) {
			req := SearchRequest{SystemFilters: []SystemFilter{tc.filter}}
			where, args, _ := renderFilters(t, &req, nil)
			require.Equal(t, tc.wantWhere, where)
			require.Equal(t, tc.wantArgs, args)
		})
	}
}

func TestCreatorFilterNeedsUserJoin(t *testing.T) {
	req := SearchRequest{SystemFilters: []SystemFilter{
		{Field: "creator", Operator: "is", Values: []string{"ada"}},
	}}
	where, args, needsUserJoin := renderFilters(t, &req, nil)
	require.True(t, needsUserJoin)
	require.Equal(t, "(COALESCE(u.display_name, u.username) = $1)", where)
	require.Equal(t, []interface{}{"ada"}, args)
}

func TestFieldFilterExistsSubquery(t *testing.T) {
	cases := []struct {
		description string
		filter      FieldFilter
		wantWhere   string
		wantArgs    []interface{}
	}{
		{
			description: "numeric between",
			filter: FieldFilter{
				Source: model.FieldSourceConfig, Key: "lr", DataType: "number",
				Operator: "between", Values: []string{"0.005", "0.05"},
			},
			wantWhere: "(EXISTS (SELECT 1 FROM run_field_values fv" +
				" WHERE fv.run_id = r.id AND fv.source = $1 AND fv.key = $2" +
				" AND fv.number_value >= $3 AND fv.number_value <= $4))",
			wantArgs: []interface{}{"config", "lr", 0.005, 0.05},
		},
		{
			description: "is not wraps the positive condition in NOT EXISTS",
			filter: FieldFilter{
				Source: model.FieldSourceConfig, Key: "lr", DataType: "number",
				Operator: "is not", Values: []string{"0.01"},
			},
			wantWhere: "(NOT EXISTS (SELECT 1 FROM run_field_values fv" +
				" WHERE fv.run_id = r.id AND fv.source = $1 AND fv.key = $2" +
				" AND fv.number_value = $3))",
			wantArgs: []interface{}{"config", "lr", 0.01},
		},
		{
			description: "text does not contain via NOT EXISTS",
			filter: FieldFilter{
				Source: model.FieldSourceConfig, Key: "optimizer", DataType: "text",
				Operator: "does not contain", Values: []string{"adam"},
			},
			wantWhere: "(NOT EXISTS (SELECT 1 FROM run_field_values fv" +
				" WHERE fv.run_id = r.id AND fv.source = $1 AND fv.key = $2" +
				" AND fv.value ILIKE $3))",
			wantArgs: []interface{}{"config", "optimizer", "%adam%"},
		},
		{
			description: "option is none of via NOT EXISTS",
			filter: FieldFilter{
				Source: model.FieldSourceSystemMetadata, Key: "gpu", DataType: "option",
				Operator: "is none of", Values: []string{"a100", "h100"},
			},
			wantWhere: "(NOT EXISTS (SELECT 1 FROM run_field_values fv" +
				" WHERE fv.run_id = r.id AND fv.source = $1 AND fv.key = $2" +
				" AND fv.value = ANY($3)))",
			wantArgs: []interface{}{"systemMetadata", "gpu", textArray([]string{"a100", "h100"})},
		},
		{
			description: "date after compares stored ISO text",
			filter: FieldFilter{
				Source: model.FieldSourceConfig, Key: "deadline", DataType: "date",
				Operator: "after", Values: []string{"2026-03-01T00:00:00"},
			},
			wantWhere: "(EXISTS (SELECT 1 FROM run_field_values fv" +
				" WHERE fv.run_id = r.id AND fv.source = $1 AND fv.key = $2" +
				" AND fv.value > $3))",
			wantArgs: []interface{}{"config", "deadline", "2026-03-01T00:00:00"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.description, func(t *testing.T) {
			req := SearchRequest{FieldFilters: []FieldFilter{tc.filter}}
			where, args, _ := renderFilters(t, &req, nil)
			require.Equal(t, tc.wantWhere, where)
			require.Equal(t, tc.wantArgs, args)
		})
	}
}

func TestFieldFilterDropsUnrepresentableConditions(t *testing.T) {
	cases := []struct {
		description string
		filter      FieldFilter
	}{
		{
			description: "non-numeric value for numeric operator",
			filter: FieldFilter{
				Source: model.FieldSourceConfig, Key: "lr", DataType: "number",
				Operator: ">", Values: []string{"fast"},
			},
		},
		{
			description: "between with a single bound",
			filter: FieldFilter{
				Source: model.FieldSourceConfig, Key: "lr", DataType: "number",
				Operator: "between", Values: []string{"0.1"},
			},
		},
		{
			description: "unknown operator",
			filter: FieldFilter{
				Source: model.FieldSourceConfig, Key: "lr", DataType: "number",
				Operator: "near", Values: []string{"0.1"},
			},
		},
		{
			description: "unknown data type",
			filter: FieldFilter{
				Source: model.FieldSourceConfig, Key: "lr", DataType: "blob",
				Operator: "is", Values: []string{"x"},
			},
		},
		{
			description: "no values",
			filter: FieldFilter{
				Source: model.FieldSourceConfig, Key: "lr", DataType: "number",
				Operator: "is", Values: nil,
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.description, func(t *testing.T) {
			req := SearchRequest{FieldFilters: []FieldFilter{tc.filter}}
			where, args, _ := renderFilters(t, &req, nil)
			require.Empty(t, where, "condition should have been dropped")
			require.Empty(t, args)
		})
	}
}

// Placeholder positions must track cumulative appends exactly, with each
// argument landing at the position its fragment references.
func TestCombinedFiltersParameterAlignment(t *testing.T) {
	req := SearchRequest{
		Tags:     []string{"v1"},
		Statuses: []model.RunStatus{model.RunStatusCompleted},
		DateFilters: []DateFilter{
			{Field: "createdAt", Operator: "after", Value: "2026-01-01"},
		},
		FieldFilters: []FieldFilter{{
			Source: model.FieldSourceConfig, Key: "lr", DataType: "number",
			Operator: "<=", Values: []string{"0.5"},
		}},
	}
	where, args, _ := renderFilters(t, &req, ptrs.Ptr(int64(9)))

	require.Equal(t,
		"(r.project_id = $1) AND (r.tags && $2) AND (r.status = ANY($3)) AND "+
			"(r.created_at > $4) AND "+
			"(EXISTS (SELECT 1 FROM run_field_values fv"+
			" WHERE fv.run_id = r.id AND fv.source = $5 AND fv.key = $6"+
			" AND fv.number_value <= $7))",
		where)
	require.Equal(t, []interface{}{
		int64(9),
		textArray([]string{"v1"}),
		textArray([]string{"COMPLETED"}),
		"2026-01-01",
		"config", "lr", 0.5,
	}, args)
}

func TestSearchIDQueryEmbedsAllFilters(t *testing.T) {
	req := SearchRequest{
		Search:   "train",
		Tags:     []string{"v1"},
		Statuses: []model.RunStatus{model.RunStatusRunning},
	}
	query, args := buildSearchIDQuery(&req, ptrs.Ptr(int64(2)))

	require.Equal(t,
		"SELECT r.id FROM runs r WHERE (r.project_id = $1) AND "+
			"(r.name ILIKE $2) AND (r.tags && $3) AND (r.status = ANY($4))",
		query)
	require.Equal(t, []interface{}{
		int64(2), "%train%",
		textArray([]string{"v1"}),
		textArray([]string{"RUNNING"}),
	}, args)
}
