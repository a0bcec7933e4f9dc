package run

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/logging"
	runrepo "github.com/Ramsey-B/clover/internal/repositories/run"
	"github.com/Ramsey-B/clover/internal/server"
	"github.com/Ramsey-B/clover/pkg/reconcile"
)

type fakeRuns struct {
	reports     map[string]*reconcile.Report
	destination string
	limit       int
}

func (f *fakeRuns) List(_ context.Context, destination string, limit int) ([]runrepo.Summary, error) {
	f.destination, f.limit = destination, limit
	out := []runrepo.Summary{}
	for id, r := range f.reports {
		out = append(out, runrepo.Summary{RunID: id, Destination: r.Destination, Outcome: string(r.Outcome)})
	}
	return out, nil
}

func (f *fakeRuns) Get(_ context.Context, runID string) (*reconcile.Report, error) {
	r, ok := f.reports[runID]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "run %s not found", runID)
	}
	return r, nil
}

func setup() (*echo.Echo, *fakeRuns) {
	runs := &fakeRuns{reports: map[string]*reconcile.Report{
		"r1": {RunID: "r1", Destination: "production", Outcome: reconcile.OutcomeCompleted, Eligible: 3},
	}}
	e := server.New(server.Options{Groups: map[string]server.Routes{"/runs": NewHandler(runs)}}, logging.Nop())
	return e, runs
}

func serve(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestListRuns(t *testing.T) {
	e, runs := setup()

	rec := serve(e, "/api/v1/runs?destination=production&limit=500")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "production", runs.destination)
	assert.Equal(t, maxLimit, runs.limit)

	var body []runrepo.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "r1", body[0].RunID)

	rec = serve(e, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, runs.limit)

	rec = serve(e, "/api/v1/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun(t *testing.T) {
	e, _ := setup()

	rec := serve(e, "/api/v1/runs/r1")
	require.Equal(t, http.StatusOK, rec.Code)
	var report reconcile.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 3, report.Eligible)

	rec = serve(e, "/api/v1/runs/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body server.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run nope not found", body.Message)
	assert.NotEmpty(t, body.RequestID)
}
