package runs

import (
	"strconv"
	"strings"

	"github.com/jackc/pgtype"

	"github.com/runboard-ai/runboard/pkg/model"
)

// Filter operator names shared across system and field filters.
const (
	opContains       = "contains"
	opNotContains    = "does not contain"
	opIs             = "is"
	opIsNot          = "is not"
	opStartsWith     = "starts with"
	opEndsWith       = "ends with"
	opRegex          = "regex"
	opIsAnyOf        = "is any of"
	opIsNoneOf       = "is none of"
	opInclude        = "include"
	opExclude        = "exclude"
	opIncludeAnyOf   = "include any of"
	opIncludeAllOf   = "include all of"
	opExcludeIfAll   = "exclude if all"
	opExcludeIfAnyOf = "exclude if any of"
	opBefore         = "before"
	opAfter          = "after"
	opBetween        = "between"
	opNotBetween     = "not between"
)

// dateColumns maps request date-field names onto run columns.
var dateColumns = map[string]string{
	"createdAt":       "r.created_at",
	"updatedAt":       "r.updated_at",
	"statusUpdatedAt": "r.status_updated_at",
}

// textArray wraps a string slice for binding as a Postgres text[] parameter.
func textArray(values []string) *pgtype.TextArray {
	arr := &pgtype.TextArray{}
	// Set on []string cannot fail.
	_ = arr.Set(values)
	return arr
}

// int8Array wraps an int64 slice for binding as a Postgres bigint[] parameter.
func int8Array(values []int64) *pgtype.Int8Array {
	arr := &pgtype.Int8Array{}
	_ = arr.Set(values)
	return arr
}

// builtFilters is the filter builder output: the accumulated WHERE conditions
// plus which optional joins the final query must include.
type builtFilters struct {
	clauses       *ClauseSet
	needsUserJoin bool
}

// buildRelationalFilters translates every relational filter in the request
// into WHERE conditions. Unrepresentable conditions (unknown operator, wrong
// value count, non-numeric value for a numeric operator) are dropped
// individually so one malformed filter never fails the whole request. When
// includeSearch is set the free-text name match is embedded too.
func buildRelationalFilters(req *SearchRequest, projectID *int64, includeSearch bool) builtFilters {
	out := builtFilters{clauses: &ClauseSet{}}
	cs := out.clauses

	if projectID != nil {
		cs.Add("r.project_id = ?", *projectID)
	}
	if includeSearch && strings.TrimSpace(req.Search) != "" {
		cs.Add("r.name ILIKE ?", "%"+strings.TrimSpace(req.Search)+"%")
	}
	if len(req.Tags) > 0 {
		cs.Add("r.tags && ?", textArray(req.Tags))
	}
	if len(req.Statuses) > 0 {
		statuses := make([]string, 0, len(req.Statuses))
		for _, status := range req.Statuses {
			if model.ValidRunStatus(status) {
				statuses = append(statuses, string(status))
			}
		}
		if len(statuses) > 0 {
			cs.Add("r.status = ANY(?)", textArray(statuses))
		}
	}
	for _, f := range req.DateFilters {
		addDateFilter(cs, f)
	}
	for _, f := range req.SystemFilters {
		if addSystemFilter(cs, f) {
			out.needsUserJoin = true
		}
	}
	for _, f := range req.FieldFilters {
		addFieldFilter(cs, f)
	}
	return out
}

func addDateFilter(cs *ClauseSet, f DateFilter) {
	col, ok := dateColumns[f.Field]
	if !ok {
		return
	}
	switch f.Operator {
	case opBefore:
		cs.Add(col+" < ?", f.Value)
	case opAfter:
		cs.Add(col+" > ?", f.Value)
	case opBetween:
		if f.Value2 == "" {
			return
		}
		cs.Add(col+" >= ? AND "+col+" <= ?", f.Value, f.Value2)
	}
}

// addTextFilter appends a text-column condition. Negated operators are phrased
// so a NULL value still satisfies them; plain NOT would silently drop those
// rows.
func addTextFilter(cs *ClauseSet, col string, operator string, values []string) {
	if len(values) == 0 {
		return
	}
	v := values[0]
	switch operator {
	case opContains:
		cs.Add(col+" ILIKE ?", "%"+v+"%")
	case opNotContains:
		cs.Add("("+col+" IS NULL OR "+col+" NOT ILIKE ?)", "%"+v+"%")
	case opIs:
		cs.Add(col+" = ?", v)
	case opIsNot:
		cs.Add("("+col+" IS NULL OR "+col+" != ?)", v)
	case opStartsWith:
		cs.Add(col+" LIKE ?", v+"%")
	case opEndsWith:
		cs.Add(col+" LIKE ?", "%"+v)
	case opRegex:
		cs.Add(col+" ~ ?", v)
	}
}

// addSystemFilter appends a fixed-column filter, reporting whether the query
// needs the users join.
func addSystemFilter(cs *ClauseSet, f SystemFilter) (needsUserJoin bool) {
	switch f.Field {
	case "name":
		addTextFilter(cs, "r.name", f.Operator, f.Values)
	case "notes":
		addTextFilter(cs, "r.notes", f.Operator, f.Values)
	case "creator":
		addTextFilter(cs, "COALESCE(u.display_name, u.username)", f.Operator, f.Values)
		return true
	case "status":
		addStatusFilter(cs, f.Operator, f.Values)
	case "tags":
		addTagsFilter(cs, f.Operator, f.Values)
	}
	return false
}

func addStatusFilter(cs *ClauseSet, operator string, values []string) {
	if len(values) == 0 {
		return
	}
	switch operator {
	case opIs:
		cs.Add("r.status = ?", values[0])
	case opIsNot:
		cs.Add("r.status != ?", values[0])
	case opIsAnyOf:
		cs.Add("r.status = ANY(?)", textArray(values))
	case opIsNoneOf:
		cs.Add("NOT (r.status = ANY(?))", textArray(values))
	}
}

func addTagsFilter(cs *ClauseSet, operator string, values []string) {
	if len(values) == 0 {
		return
	}
	switch operator {
	case opInclude:
		cs.Add("? = ANY(r.tags)", values[0])
	case opExclude:
		cs.Add("NOT (? = ANY(r.tags))", values[0])
	case opIncludeAnyOf:
		cs.Add("r.tags && ?", textArray(values))
	case opIncludeAllOf:
		cs.Add("r.tags @> ?", textArray(values))
	case opExcludeIfAll:
		cs.Add("NOT (r.tags @> ?)", textArray(values))
	case opExcludeIfAnyOf:
		cs.Add("NOT (r.tags && ?)", textArray(values))
	}
}

// addFieldFilter appends a flattened-field condition as a correlated EXISTS
// against run_field_values. Negated operators become NOT EXISTS around the
// positive condition, so runs missing the field entirely count as matches for
// "does not have" semantics.
func addFieldFilter(cs *ClauseSet, f FieldFilter) {
	cond, args, negate, ok := fieldValueCondition(f.DataType, f.Operator, f.Values)
	if !ok {
		return
	}
	exists := "EXISTS"
	if negate {
		exists = "NOT EXISTS"
	}
	sql := exists + ` (SELECT 1 FROM run_field_values fv` +
		` WHERE fv.run_id = r.id AND fv.source = ? AND fv.key = ? AND ` + cond + `)`
	all := append([]interface{}{string(f.Source), f.Key}, args...)
	cs.Add(sql, all...)
}

// fieldValueCondition renders the inner value condition for a flattened-field
// filter. It always renders the positive condition; negate tells the caller to
// wrap it in NOT EXISTS. ok=false means the condition is unrepresentable and
// must be dropped by the caller.
func fieldValueCondition(
	dataType, operator string, values []string,
) (cond string, args []interface{}, negate bool, ok bool) {
	if len(values) == 0 {
		return "", nil, false, false
	}
	v := values[0]
	switch dataType {
	case "text":
		switch operator {
		case opContains:
			return "fv.value ILIKE ?", []interface{}{"%" + v + "%"}, false, true
		case opNotContains:
			return "fv.value ILIKE ?", []interface{}{"%" + v + "%"}, true, true
		case opIs:
			return "fv.value = ?", []interface{}{v}, false, true
		case opIsNot:
			return "fv.value = ?", []interface{}{v}, true, true
		case opStartsWith:
			return "fv.value LIKE ?", []interface{}{v + "%"}, false, true
		case opEndsWith:
			return "fv.value LIKE ?", []interface{}{"%" + v}, false, true
		case opRegex:
			return "fv.value ~ ?", []interface{}{v}, false, true
		}
	case "number":
		return numberValueCondition(operator, values)
	case "date":
		// Date leaves are stored as ISO-8601 text, which compares correctly
		// as strings.
		switch operator {
		case opBefore:
			return "fv.value < ?", []interface{}{v}, false, true
		case opAfter:
			return "fv.value > ?", []interface{}{v}, false, true
		case opBetween:
			if len(values) < 2 {
				return "", nil, false, false
			}
			return "fv.value >= ? AND fv.value <= ?",
				[]interface{}{values[0], values[1]}, false, true
		}
	case "option":
		switch operator {
		case opIs:
			return "fv.value = ?", []interface{}{v}, false, true
		case opIsNot:
			return "fv.value = ?", []interface{}{v}, true, true
		case opIsAnyOf:
			return "fv.value = ANY(?)", []interface{}{textArray(values)}, false, true
		case opIsNoneOf:
			return "fv.value = ANY(?)", []interface{}{textArray(values)}, true, true
		}
	}
	return "", nil, false, false
}

// numberValueCondition guards every numeric operator behind a parse: a
// non-numeric filter value drops that single condition, never the request.
func numberValueCondition(
	operator string, values []string,
) (string, []interface{}, bool, bool) {
	nums := make([]interface{}, 0, len(values))
	for _, raw := range values {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", nil, false, false
		}
		nums = append(nums, f)
	}
	one := func(cond string) (string, []interface{}, bool, bool) {
		return cond, nums[:1], false, true
	}
	switch operator {
	case opIs, "=":
		return one("fv.number_value = ?")
	case opIsNot, "!=":
		cond, args, _, ok := one("fv.number_value = ?")
		return cond, args, true, ok
	case ">":
		return one("fv.number_value > ?")
	case "<":
		return one("fv.number_value < ?")
	case ">=":
		return one("fv.number_value >= ?")
	case "<=":
		return one("fv.number_value <= ?")
	case opBetween:
		if len(nums) < 2 {
			return "", nil, false, false
		}
		return "fv.number_value >= ? AND fv.number_value <= ?", nums[:2], false, true
	case opNotBetween:
		if len(nums) < 2 {
			return "", nil, false, false
		}
		return "fv.number_value >= ? AND fv.number_value <= ?", nums[:2], true, true
	}
	return "", nil, false, false
}
