package runs

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/runboard-ai/runboard/internal/cache"
	"github.com/runboard-ai/runboard/internal/db"
	"github.com/runboard-ai/runboard/internal/metrics"
	"github.com/runboard-ai/runboard/pkg/model"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ErrInvalidRequest marks client mistakes (bad sort source, malformed
// continuation token) so the API layer can map them to a 400.
var ErrInvalidRequest = errors.New("invalid search request")

// systemSortColumns maps sortable fixed columns to their SQL expression and
// the cast needed to compare a text cursor value against them. Nullable
// columns are deliberately absent; keyset tuples cannot page past NULLs.
var systemSortColumns = map[string]struct{ col, cast string }{
	"name":            {"r.name", ""},
	"status":          {"r.status", ""},
	"createdAt":       {"r.created_at", "::timestamptz"},
	"updatedAt":       {"r.updated_at", "::timestamptz"},
	"statusUpdatedAt": {"r.status_updated_at", "::timestamptz"},
}

// relationalStore is the slice of *db.PgDB run search depends on.
type relationalStore interface {
	SelectRuns(ctx context.Context, query string, args ...interface{}) ([]db.RunWithSortValue, error)
	SelectRunIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error)
	RunsByIDs(ctx context.Context, ids []int64) ([]model.Run, error)
}

// metricStore is the slice of *metrics.Store run search depends on.
type metricStore interface {
	FilteredRunIDs(ctx context.Context, projectID int64, filters []metrics.Filter) ([]int64, bool, error)
	SortedRunIDs(
		ctx context.Context, projectID int64, logName string, agg metrics.Aggregation,
		desc bool, candidates []int64, filters []metrics.Filter, limit, offset int,
	) ([]metrics.RunValue, error)
}

// Searcher answers run search requests, fanning out across the relational
// and columnar stores as the request demands.
type Searcher struct {
	db      relationalStore
	metrics metricStore
	cache   *cache.Cache

	resolveProject func(ctx context.Context, orgID int64, name string) (int64, error)
}

// NewSearcher builds a Searcher; cache may be nil to disable result caching.
func NewSearcher(pg *db.PgDB, ms *metrics.Store, c *cache.Cache) *Searcher {
	return &Searcher{
		db:             pg,
		metrics:        ms,
		cache:          c,
		resolveProject: db.ProjectIDByName,
	}
}

func emptyResponse() *SearchResponse {
	return &SearchResponse{Runs: []model.Run{}}
}

// Search runs the full pipeline: project resolution, metric-filter and
// free-text ID restriction, then one of the pagination strategies.
func (s *Searcher) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	projectID := req.ProjectID
	if projectID == nil && req.ProjectName != "" {
		id, err := s.resolveProject(ctx, req.OrgID, req.ProjectName)
		if errors.Is(err, db.ErrNotFound) {
			return emptyResponse(), nil
		} else if err != nil {
			return nil, err
		}
		projectID = &id
	}

	var cacheKey string
	if s.cache != nil {
		cacheKey = cache.Key("runs.search", req)
		var cached SearchResponse
		if s.cache.GetJSON(ctx, cacheKey, &cached) {
			return &cached, nil
		}
	}

	// Metric filters always resolve to a run-ID set first; an empty
	// intersection ends the request without touching Postgres.
	var restriction []int64
	restricted := false
	if len(req.MetricFilters) > 0 {
		if projectID == nil {
			return nil, errors.Wrap(ErrInvalidRequest, "metric filters require a project scope")
		}
		ids, ok, err := s.metrics.FilteredRunIDs(ctx, *projectID, toMetricFilters(req.MetricFilters))
		if err != nil {
			return nil, err
		}
		if ok {
			if len(ids) == 0 {
				return emptyResponse(), nil
			}
			restriction, restricted = ids, true
		}
	}

	// Free-text search folds every relational filter into one ID resolution
	// up front; the page query then only sees the resulting restriction.
	searchActive := req.Search != ""
	if searchActive {
		query, args := buildSearchIDQuery(req, projectID)
		ids, err := s.db.SelectRunIDs(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		if restricted {
			ids = intersectIDs(restriction, ids)
		}
		if len(ids) == 0 {
			return emptyResponse(), nil
		}
		restriction, restricted = ids, true
	}

	var resp *SearchResponse
	var err error
	switch {
	case req.Sort == nil:
		resp, err = s.defaultPage(ctx, req, projectID, restriction, restricted, searchActive, limit)
	case req.Sort.Source == SortSourceMetric:
		resp, err = s.metricSortPage(ctx, req, projectID, restriction, restricted, searchActive, limit)
	case req.Sort.Source == SortSourceConfig || req.Sort.Source == SortSourceSystemMetadata:
		resp, err = s.jsonFieldPage(ctx, req, projectID, restriction, restricted, searchActive, limit)
	case req.Sort.Source == SortSourceSystem:
		resp, err = s.keysetPage(ctx, req, projectID, restriction, restricted, searchActive, limit)
	default:
		return nil, errors.Wrapf(ErrInvalidRequest, "unknown sort source %q", req.Sort.Source)
	}
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetJSON(ctx, cacheKey, resp)
	}
	return resp, nil
}

// defaultPage orders by (created_at, id) descending with an ID cursor. The
// unfiltered case goes through the structured builder; relational filters
// switch to the raw path.
func (s *Searcher) defaultPage(
	ctx context.Context, req *SearchRequest, projectID *int64,
	restriction []int64, restricted, skipFilters bool, limit int,
) (*SearchResponse, error) {
	if !restricted && !req.hasRelationalFilters() {
		var rs []model.Run
		q := db.Bun().NewSelect().Model(&rs)
		if projectID != nil {
			q = q.Where("r.project_id = ?", *projectID)
		}
		if req.Cursor != nil {
			q = q.Where(
				"(r.created_at, r.id) < (SELECT created_at, id FROM runs WHERE id = ?)",
				*req.Cursor,
			)
		}
		err := q.OrderExpr("r.created_at DESC, r.id DESC").Limit(limit + 1).Scan(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "listing runs")
		}
		resp := &SearchResponse{Runs: rs}
		if len(rs) > limit {
			resp.Runs = rs[:limit]
			resp.NextCursor = &resp.Runs[limit-1].ID
		}
		return resp, nil
	}

	var bf builtFilters
	if skipFilters {
		bf = buildRelationalFilters(&SearchRequest{}, projectID, false)
	} else {
		bf = buildRelationalFilters(req, projectID, false)
	}
	if restricted {
		bf.clauses.Add("r.id = ANY(?)", int8Array(restriction))
	}
	if req.Cursor != nil {
		bf.clauses.Add(
			"(r.created_at, r.id) < (SELECT created_at, id FROM runs WHERE id = ?)",
			*req.Cursor,
		)
	}
	query := "SELECT " + db.RunColumns + " FROM runs r"
	if bf.needsUserJoin {
		query += " LEFT JOIN users u ON u.id = r.creator_id"
	}
	where, args, _ := bf.clauses.Render(1)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY r.created_at DESC, r.id DESC LIMIT " + strconv.Itoa(limit+1)

	rows, err := s.db.SelectRuns(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	runs := runsOf(rows)
	resp := &SearchResponse{Runs: runs}
	if len(runs) > limit {
		resp.Runs = runs[:limit]
		resp.NextCursor = &resp.Runs[limit-1].ID
	}
	return resp, nil
}

// keysetPage orders by a fixed run column with a (value, id) tuple cursor, so
// page depth never affects query cost.
func (s *Searcher) keysetPage(
	ctx context.Context, req *SearchRequest, projectID *int64,
	restriction []int64, restricted, skipFilters bool, limit int,
) (*SearchResponse, error) {
	sortCol, ok := systemSortColumns[req.Sort.Field]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidRequest, "unsortable system column %q", req.Sort.Field)
	}
	desc := req.Sort.Direction == "desc"
	dir, cmp := "ASC", ">"
	if desc {
		dir, cmp = "DESC", "<"
	}

	var bf builtFilters
	if skipFilters {
		bf = buildRelationalFilters(&SearchRequest{}, projectID, false)
	} else {
		bf = buildRelationalFilters(req, projectID, false)
	}
	if restricted {
		bf.clauses.Add("r.id = ANY(?)", int8Array(restriction))
	}
	if req.SortCursor != "" {
		value, id, err := decodeSortCursor(req.SortCursor)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidRequest, err.Error())
		}
		bf.clauses.Add("("+sortCol.col+", r.id) "+cmp+" (?"+sortCol.cast+", ?)", value, id)
	}

	query := "SELECT " + db.RunColumns + ", " + sortCol.col + "::text AS sort_value FROM runs r"
	if bf.needsUserJoin {
		query += " LEFT JOIN users u ON u.id = r.creator_id"
	}
	where, args, _ := bf.clauses.Render(1)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + sortCol.col + " " + dir + ", r.id " + dir +
		" LIMIT " + strconv.Itoa(limit+1)

	rows, err := s.db.SelectRuns(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	resp := &SearchResponse{Runs: runsOf(rows)}
	if len(rows) > limit {
		resp.Runs = resp.Runs[:limit]
		last := rows[limit-1]
		token := encodeSortCursor(last.SortValue.ValueOrZero(), last.Run.ID)
		resp.SortCursor = &token
	}
	return resp, nil
}

// jsonFieldPage orders by a flattened config/metadata field via a LEFT JOIN on
// the field index; runs missing the field sort last. Field values have no
// usable total order across runs that change type, so this strategy pages by
// capped offset instead of keyset.
func (s *Searcher) jsonFieldPage(
	ctx context.Context, req *SearchRequest, projectID *int64,
	restriction []int64, restricted, skipFilters bool, limit int,
) (*SearchResponse, error) {
	source := req.Sort.Source
	dir := "ASC"
	if req.Sort.Direction == "desc" {
		dir = "DESC"
	}
	offset := clampOffset(req.Offset)

	var bf builtFilters
	if skipFilters {
		bf = buildRelationalFilters(&SearchRequest{}, projectID, false)
	} else {
		bf = buildRelationalFilters(req, projectID, false)
	}
	if restricted {
		bf.clauses.Add("r.id = ANY(?)", int8Array(restriction))
	}

	// The join condition binds before the WHERE clause, so its placeholders
	// are numbered first and its args lead the argument list.
	join, next := renderFragment(
		" LEFT JOIN run_field_values fv ON fv.run_id = r.id AND fv.source = ? AND fv.key = ?", 1)
	args := []interface{}{source, req.Sort.Field}

	query := "SELECT " + db.RunColumns + ", fv.value AS sort_value FROM runs r" + join
	if bf.needsUserJoin {
		query += " LEFT JOIN users u ON u.id = r.creator_id"
	}
	where, whereArgs, _ := bf.clauses.Render(next)
	if where != "" {
		query += " WHERE " + where
	}
	args = append(args, whereArgs...)
	query += " ORDER BY fv.number_value " + dir + " NULLS LAST," +
		" fv.value " + dir + " NULLS LAST, r.id ASC" +
		" LIMIT " + strconv.Itoa(limit+1) + " OFFSET " + strconv.Itoa(offset)

	rows, err := s.db.SelectRuns(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	resp := &SearchResponse{Runs: runsOf(rows)}
	if len(rows) > limit {
		resp.Runs = resp.Runs[:limit]
		next := offset + limit
		resp.NextOffset = &next
	}
	return resp, nil
}

// metricSortPage orders by a metric aggregate: the columnar store picks and
// orders the page of run IDs, Postgres only hydrates them afterwards.
func (s *Searcher) metricSortPage(
	ctx context.Context, req *SearchRequest, projectID *int64,
	restriction []int64, restricted, skipFilters bool, limit int,
) (*SearchResponse, error) {
	if projectID == nil {
		return nil, errors.Wrap(ErrInvalidRequest, "metric sort requires a project scope")
	}
	agg := req.Sort.Aggregation
	if agg == "" {
		agg = metrics.AggLast
	}
	desc := req.Sort.Direction == "desc"
	offset := clampOffset(req.Offset)

	// Relational filters become a candidate ID set for the columnar query.
	if !skipFilters && req.hasRelationalFilters() {
		bf := buildRelationalFilters(req, projectID, false)
		query := "SELECT r.id FROM runs r"
		if bf.needsUserJoin {
			query += " LEFT JOIN users u ON u.id = r.creator_id"
		}
		where, args, _ := bf.clauses.Render(1)
		if where != "" {
			query += " WHERE " + where
		}
		ids, err := s.db.SelectRunIDs(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		if restricted {
			ids = intersectIDs(restriction, ids)
		}
		if len(ids) == 0 {
			return emptyResponse(), nil
		}
		restriction, restricted = ids, true
	}

	var candidates []int64
	if restricted {
		candidates = restriction
	}
	values, err := s.metrics.SortedRunIDs(
		ctx, *projectID, req.Sort.Field, agg, desc, candidates, nil, limit+1, offset)
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{Runs: []model.Run{}}
	if len(values) == 0 {
		return resp, nil
	}
	hasMore := len(values) > limit
	if hasMore {
		values = values[:limit]
	}

	ids := make([]int64, 0, len(values))
	for _, v := range values {
		ids = append(ids, v.RunID)
	}
	runs, err := s.db.RunsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	// RunsByIDs gives no order guarantee; restore the columnar order.
	byID := make(map[int64]model.Run, len(runs))
	for _, r := range runs {
		byID[r.ID] = r
	}
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			resp.Runs = append(resp.Runs, r)
		}
	}
	if hasMore {
		next := offset + limit
		resp.NextOffset = &next
	}
	return resp, nil
}

// buildSearchIDQuery renders the free-text ID resolution query: every
// relational filter plus the name match.
func buildSearchIDQuery(req *SearchRequest, projectID *int64) (string, []interface{}) {
	bf := buildRelationalFilters(req, projectID, true)
	query := "SELECT r.id FROM runs r"
	if bf.needsUserJoin {
		query += " LEFT JOIN users u ON u.id = r.creator_id"
	}
	where, args, _ := bf.clauses.Render(1)
	if where != "" {
		query += " WHERE " + where
	}
	return query, args
}

func runsOf(rows []db.RunWithSortValue) []model.Run {
	runs := make([]model.Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.Run)
	}
	return runs
}

func toMetricFilters(in []MetricFilter) []metrics.Filter {
	out := make([]metrics.Filter, 0, len(in))
	for _, f := range in {
		out = append(out, metrics.Filter{
			LogName:  f.LogName,
			Agg:      f.Aggregation,
			Operator: f.Operator,
			Values:   f.Values,
		})
	}
	return out
}

// intersectIDs keeps the elements of a that also appear in b, preserving a's
// order.
func intersectIDs(a, b []int64) []int64 {
	in := make(map[int64]struct{}, len(b))
	for _, id := range b {
		in[id] = struct{}{}
	}
	out := make([]int64, 0, len(a))
	for _, id := range a {
		if _, ok := in[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
