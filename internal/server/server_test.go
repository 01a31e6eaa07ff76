package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geoenrich/internal/pipeline"
	"github.com/sells-group/geoenrich/internal/store"
	"github.com/sells-group/geoenrich/internal/table"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()

	tbl := table.New("tier_groups",
		table.Column{Name: "period", Type: table.String},
		table.Column{Name: "count", Type: table.Int},
	)
	for i := 0; i < 5; i++ {
		tbl.Append(fmt.Sprintf("p%d", i), int64(i))
	}
	require.NoError(t, st.Save(ctx, tbl))
	require.NoError(t, st.Save(ctx, pipeline.ReportTable(&pipeline.Report{RunID: "run-9", Status: pipeline.StatusComplete})))
	return New(st), st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	rr := get(t, srv.Handler(), "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestListTables(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	rr := get(t, srv.Handler(), "/tables")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"tables":["run_report","tier_groups"]}`, rr.Body.String())
}

func TestListTables_Empty(t *testing.T) {
	t.Parallel()
	rr := get(t, New(store.NewMemory()).Handler(), "/tables")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"tables":[]}`, rr.Body.String())
}

func TestGetTable_Paging(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	rr := get(t, srv.Handler(), "/tables/tier_groups?limit=2&offset=1")
	require.Equal(t, http.StatusOK, rr.Code)

	var page struct {
		Name    string         `json:"name"`
		Columns []table.Column `json:"columns"`
		Rows    [][]any        `json:"rows"`
		Total   int            `json:"total"`
		Offset  int            `json:"offset"`
		Limit   int            `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, "tier_groups", page.Name)
	assert.Len(t, page.Columns, 2)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 1, page.Offset)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, [][]any{{"p1", 1.0}, {"p2", 2.0}}, page.Rows)
}

func TestGetTable_Errors(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		path string
		code int
	}{
		{"/tables/missing", http.StatusNotFound},
		{"/tables/Bad-Name", http.StatusBadRequest},
		{"/tables/tier_groups?limit=0", http.StatusBadRequest},
		{"/tables/tier_groups?limit=5000", http.StatusBadRequest},
		{"/tables/tier_groups?limit=abc", http.StatusBadRequest},
		{"/tables/tier_groups?offset=-1", http.StatusBadRequest},
		{"/tables/tier_groups?offset=99", http.StatusOK},
	}
	for _, tt := range tests {
		rr := get(t, h, tt.path)
		assert.Equal(t, tt.code, rr.Code, tt.path)
	}
}

func TestReport(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	rr := get(t, srv.Handler(), "/report")
	require.Equal(t, http.StatusOK, rr.Code)

	var rep pipeline.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	assert.Equal(t, "run-9", rep.RunID)
	assert.Equal(t, pipeline.StatusComplete, rep.Status)
}

func TestReport_NoRun(t *testing.T) {
	t.Parallel()
	rr := get(t, New(store.NewMemory()).Handler(), "/report")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

type failingStore struct{ store.DatasetStore }

func (failingStore) List(context.Context) ([]string, error) {
	return nil, errors.New("disk on fire")
}

func TestListTables_StoreError(t *testing.T) {
	t.Parallel()
	rr := get(t, New(failingStore{store.NewMemory()}).Handler(), "/tables")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "disk on fire")
}

func TestCORS(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestListenAndServe_Shutdown(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	srv, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, port) }()

	var ready bool
	for i := 0; i < 50; i++ {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err == nil {
			resp.Body.Close() //nolint:errcheck
			ready = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, ready, "server did not start")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
