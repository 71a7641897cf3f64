package internal

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/runboard-ai/runboard/internal/db"
	"github.com/runboard-ai/runboard/internal/metrics"
	"github.com/runboard-ai/runboard/internal/runs"
	"github.com/runboard-ai/runboard/pkg/idcodec"
	"github.com/runboard-ai/runboard/pkg/model"
)

// runPayload is a run as exposed over the API: the record plus its opaque
// external token.
type runPayload struct {
	model.Run
	Token string `json:"token"`
}

func (m *Master) runPayload(run model.Run) (runPayload, error) {
	token, err := m.codec.Encode(run.ID)
	if err != nil {
		return runPayload{}, err
	}
	return runPayload{Run: run, Token: token}, nil
}

// decodeRunToken resolves an externally-supplied run token, mapping malformed
// tokens to a 404 rather than leaking codec internals.
func (m *Master) decodeRunToken(c echo.Context) (int64, error) {
	id, err := m.codec.Decode(c.Param("token"))
	if errors.Is(err, idcodec.ErrMalformedToken) {
		return 0, echo.NewHTTPError(http.StatusNotFound, "invalid run reference")
	} else if err != nil {
		return 0, err
	}
	return id, nil
}

func (m *Master) postRun(c echo.Context) (interface{}, error) {
	var body struct {
		ProjectID      int64                  `json:"projectId"`
		Name           string                 `json:"name"`
		Tags           []string               `json:"tags"`
		CreatorID      int64                  `json:"creatorId"`
		Config         map[string]interface{} `json:"config"`
		SystemMetadata map[string]interface{} `json:"systemMetadata"`
	}
	if err := c.Bind(&body); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.ProjectID == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "projectId is required")
	}

	run := model.Run{
		ProjectID:      body.ProjectID,
		Name:           body.Name,
		Tags:           body.Tags,
		CreatorID:      body.CreatorID,
		Config:         body.Config,
		SystemMetadata: body.SystemMetadata,
	}
	if err := db.CreateRun(c.Request().Context(), &run); err != nil {
		return nil, err
	}
	return m.runPayload(run)
}

func (m *Master) getRun(c echo.Context) (interface{}, error) {
	id, err := m.decodeRunToken(c)
	if err != nil {
		return nil, err
	}
	run, err := m.db.RunByID(c.Request().Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "run not found")
	} else if err != nil {
		return nil, err
	}
	return m.runPayload(run)
}

func (m *Master) patchRunStatus(c echo.Context) (interface{}, error) {
	id, err := m.decodeRunToken(c)
	if err != nil {
		return nil, err
	}
	var body struct {
		Status model.RunStatus `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !model.ValidRunStatus(body.Status) {
		return nil, echo.NewHTTPError(http.StatusBadRequest,
			errors.Errorf("invalid run status %q", body.Status).Error())
	}
	if err := db.UpdateRunStatus(c.Request().Context(), id, body.Status); err != nil {
		return nil, err
	}
	run, err := m.db.RunByID(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	return m.runPayload(run)
}

func (m *Master) searchRuns(c echo.Context) (interface{}, error) {
	var req runs.SearchRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := m.searcher.Search(c.Request().Context(), &req)
	if errors.Is(err, runs.ErrInvalidRequest) {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	} else if err != nil {
		return nil, err
	}
	return resp, nil
}

func (m *Master) postRunSummaries(c echo.Context) (interface{}, error) {
	var body struct {
		ProjectID int64   `json:"projectId"`
		RunIDs    []int64 `json:"runIds"`
		Metrics   []struct {
			LogName     string              `json:"logName"`
			Aggregation metrics.Aggregation `json:"aggregation"`
		} `json:"metrics"`
	}
	if err := c.Bind(&body); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	specs := make([]metrics.SummarySpec, 0, len(body.Metrics))
	for _, spec := range body.Metrics {
		agg, err := metrics.ParseAggregation(string(spec.Aggregation))
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		specs = append(specs, metrics.SummarySpec{LogName: spec.LogName, Agg: agg})
	}
	summaries, err := m.metrics.BatchSummaries(
		c.Request().Context(), body.ProjectID, body.RunIDs, specs)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"summaries": summaries}, nil
}

func paramProjectID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("project_id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid project id")
	}
	return id, nil
}

func (m *Master) getProjectKeys(c echo.Context) (interface{}, error) {
	projectID, err := paramProjectID(c)
	if err != nil {
		return nil, err
	}
	keys, err := db.DistinctProjectKeys(c.Request().Context(), projectID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"keys": keys}, nil
}

func (m *Master) getProjectMetricNames(c echo.Context) (interface{}, error) {
	projectID, err := paramProjectID(c)
	if err != nil {
		return nil, err
	}
	filter := metrics.NameFilter{
		Prefix:   c.QueryParam("prefix"),
		Contains: c.QueryParam("contains"),
		Regex:    c.QueryParam("regex"),
	}
	names, err := m.metrics.DistinctMetricNames(
		c.Request().Context(), projectID, filter, nil)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"names": names}, nil
}
