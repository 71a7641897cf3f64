package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// defaultNameCap bounds unscoped metric-name discovery.
	defaultNameCap = 500
	// scopedNameCap applies when discovery is restricted to a run set, which
	// bounds the result by construction.
	scopedNameCap = 10000
)

// SummarySpec names one requested (metric, aggregation) summary.
type SummarySpec struct {
	LogName string
	Agg     Aggregation
}

// Key is the map key under which the summary is returned.
func (s SummarySpec) Key() string {
	return s.LogName + ":" + string(s.Agg)
}

// Filter restricts runs to those whose metric aggregate satisfies a condition.
type Filter struct {
	LogName  string
	Agg      Aggregation
	Operator string
	Values   []string
}

// RunValue is one (run, sort value) pair from a metric-sorted page.
type RunValue struct {
	RunID int64
	Value float64
}

// aggSQL renders the merge expression computing an aggregate from the
// partial-state columns. AVG and VARIANCE mirror Partial.Value exactly.
func aggSQL(agg Aggregation) string {
	switch agg {
	case AggMin:
		return "minMerge(min_state)"
	case AggMax:
		return "maxMerge(max_state)"
	case AggAvg:
		return "sumMerge(sum_state) / countMerge(count_state)"
	case AggLast:
		return "argMaxMerge(last_state)"
	case AggVariance:
		return "sumMerge(sum_sq_state) / countMerge(count_state)" +
			" - pow(sumMerge(sum_state) / countMerge(count_state), 2)"
	default:
		return ""
	}
}

// havingSQL maps a filter operator onto a HAVING condition over the aggregate
// expression. Every operator requires numeric values; a non-numeric value or
// an unknown operator yields ok=false and the caller drops that one condition
// rather than failing the whole query.
func havingSQL(agg Aggregation, operator string, values []string) (string, []interface{}, bool) {
	expr := aggSQL(agg)
	if expr == "" {
		return "", nil, false
	}
	parsed := make([]interface{}, 0, len(values))
	for _, raw := range values {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", nil, false
		}
		parsed = append(parsed, f)
	}

	switch operator {
	case "is", "=":
		if len(parsed) != 1 {
			return "", nil, false
		}
		return expr + " = ?", parsed, true
	case "is not", "!=":
		if len(parsed) != 1 {
			return "", nil, false
		}
		return expr + " != ?", parsed, true
	case ">", "<", ">=", "<=":
		if len(parsed) != 1 {
			return "", nil, false
		}
		return fmt.Sprintf("%s %s ?", expr, operator), parsed, true
	case "is between":
		if len(parsed) != 2 {
			return "", nil, false
		}
		return expr + " BETWEEN ? AND ?", parsed, true
	case "is not between":
		if len(parsed) != 2 {
			return "", nil, false
		}
		return expr + " NOT BETWEEN ? AND ?", parsed, true
	default:
		return "", nil, false
	}
}

// BatchSummaries returns, for every requested run, the requested metric
// aggregates keyed by SummarySpec.Key. All five aggregations are computed per
// (run, metric) in the one grouped query; the requested subset is selected
// afterwards, which avoids issuing one subquery per requested aggregation.
func (s *Store) BatchSummaries(
	ctx context.Context, projectID int64, runIDs []int64, specs []SummarySpec,
) (map[int64]map[string]float64, error) {
	result := map[int64]map[string]float64{}
	if len(runIDs) == 0 || len(specs) == 0 {
		return result, nil
	}

	names := make([]string, 0, len(specs))
	seen := map[string]bool{}
	for _, spec := range specs {
		if !seen[spec.LogName] {
			seen[spec.LogName] = true
			names = append(names, spec.LogName)
		}
	}

	rows, err := s.conn.Query(ctx, `
		SELECT
			run_id,
			log_name,
			minMerge(min_state)      AS min,
			maxMerge(max_state)      AS max,
			sumMerge(sum_state)      AS sum,
			countMerge(count_state)  AS count,
			argMaxMerge(last_state)  AS last,
			sumMerge(sum_sq_state)   AS sum_sq
		FROM metric_summaries
		WHERE project_id = ? AND run_id IN (?) AND log_name IN (?)
		GROUP BY run_id, log_name`,
		projectID, runIDs, names)
	if err != nil {
		return nil, errors.Wrap(err, "querying metric summaries")
	}
	defer rows.Close()

	partials := map[int64]map[string]Partial{}
	for rows.Next() {
		var (
			runID   int64
			logName string
			p       Partial
		)
		if err := rows.Scan(
			&runID, &logName, &p.Min, &p.Max, &p.Sum, &p.Count, &p.LastValue, &p.SumSq,
		); err != nil {
			return nil, errors.Wrap(err, "scanning metric summary row")
		}
		if partials[runID] == nil {
			partials[runID] = map[string]Partial{}
		}
		partials[runID][logName] = partials[runID][logName].Merge(p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading metric summary rows")
	}

	for runID, byName := range partials {
		out := map[string]float64{}
		for _, spec := range specs {
			p, ok := byName[spec.LogName]
			if !ok {
				continue
			}
			out[spec.Key()] = p.Value(spec.Agg)
		}
		result[runID] = out
	}
	return result, nil
}

// NameFilter narrows metric-name discovery. At most one of the fields is
// normally set; when several are, all must match.
type NameFilter struct {
	Prefix   string
	Contains string
	Regex    string
}

// DistinctMetricNames lists the distinct metric names logged in a project,
// optionally restricted to a run set and filtered by name shape. The result
// cap is lifted when scoped to runs since the result is bounded by definition.
func (s *Store) DistinctMetricNames(
	ctx context.Context, projectID int64, filter NameFilter, runIDs []int64,
) ([]string, error) {
	var conds []string
	args := []interface{}{projectID}
	conds = append(conds, "project_id = ?")
	if len(runIDs) > 0 {
		conds = append(conds, "run_id IN (?)")
		args = append(args, runIDs)
	}
	if filter.Prefix != "" {
		conds = append(conds, "startsWith(log_name, ?)")
		args = append(args, filter.Prefix)
	}
	if filter.Contains != "" {
		conds = append(conds, "positionCaseInsensitive(log_name, ?) > 0")
		args = append(args, filter.Contains)
	}
	if filter.Regex != "" {
		conds = append(conds, "match(log_name, ?)")
		args = append(args, filter.Regex)
	}

	nameCap := defaultNameCap
	if len(runIDs) > 0 {
		nameCap = scopedNameCap
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT log_name
		FROM metric_summaries
		WHERE %s
		ORDER BY log_name
		LIMIT %d`, strings.Join(conds, " AND "), nameCap)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying distinct metric names")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scanning metric name")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// filterSubquery renders one per-filter grouped-HAVING subquery, or ok=false
// when the filter cannot be expressed as a condition.
func filterSubquery(projectID int64, f Filter) (string, []interface{}, bool) {
	having, havingArgs, ok := havingSQL(f.Agg, f.Operator, f.Values)
	if !ok {
		return "", nil, false
	}
	sub := `SELECT run_id FROM metric_summaries
		WHERE project_id = ? AND log_name = ?
		GROUP BY run_id
		HAVING ` + having
	args := append([]interface{}{projectID, f.LogName}, havingArgs...)
	return sub, args, true
}

// FilteredRunIDs returns the runs satisfying every expressible metric filter,
// AND-combined via INTERSECT. Filters that cannot be expressed (unknown
// operator, non-numeric value) are dropped individually; when every filter is
// dropped, restricted is false and no run restriction applies.
func (s *Store) FilteredRunIDs(
	ctx context.Context, projectID int64, filters []Filter,
) ([]int64, bool, error) {
	var subqueries []string
	var args []interface{}
	for _, f := range filters {
		sub, subArgs, ok := filterSubquery(projectID, f)
		if !ok {
			continue
		}
		subqueries = append(subqueries, sub)
		args = append(args, subArgs...)
	}
	if len(subqueries) == 0 {
		return nil, false, nil
	}

	query := strings.Join(subqueries, "\nINTERSECT\n")
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, false, errors.Wrap(err, "querying metric-filtered run ids")
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, false, errors.Wrap(err, "scanning metric-filtered run id")
		}
		ids = append(ids, id)
	}
	return ids, true, rows.Err()
}

// SortedRunIDs returns a page of (run, aggregate value) pairs ordered by the
// given metric aggregate. A non-nil candidates slice restricts the result to
// those runs; extra metric filters are AND-applied through the same HAVING
// mechanism as FilteredRunIDs.
func (s *Store) SortedRunIDs(
	ctx context.Context,
	projectID int64,
	logName string,
	agg Aggregation,
	desc bool,
	candidates []int64,
	filters []Filter,
	limit, offset int,
) ([]RunValue, error) {
	expr := aggSQL(agg)
	if expr == "" {
		return nil, errors.Errorf("unknown aggregation %q", agg)
	}

	conds := []string{"project_id = ?", "log_name = ?"}
	args := []interface{}{projectID, logName}
	if candidates != nil {
		conds = append(conds, "run_id IN (?)")
		args = append(args, candidates)
	}
	for _, f := range filters {
		sub, subArgs, ok := filterSubquery(projectID, f)
		if !ok {
			continue
		}
		conds = append(conds, "run_id IN ("+sub+")")
		args = append(args, subArgs...)
	}

	direction := "ASC"
	if desc {
		direction = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT run_id, %s AS sort_value
		FROM metric_summaries
		WHERE %s
		GROUP BY run_id
		ORDER BY sort_value %s, run_id ASC
		LIMIT %d OFFSET %d`,
		expr, strings.Join(conds, " AND "), direction, limit, offset)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying metric-sorted run ids")
	}
	defer rows.Close()

	var out []RunValue
	for rows.Next() {
		var rv RunValue
		if err := rows.Scan(&rv.RunID, &rv.Value); err != nil {
			return nil, errors.Wrap(err, "scanning metric-sorted row")
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}
