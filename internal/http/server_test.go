package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envelopes/internal/ledger"
	"envelopes/internal/metrics"
	"envelopes/internal/storage/memory"
)

type testResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	srv := NewServer(":0", ledger.NewService(memory.New()), opts...)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, testResponse) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	var resp testResponse
	if rec.Code != http.StatusNoContent {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	}
	return rec, resp
}

func decodeData[T any](t *testing.T, resp testResponse) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec, resp := do(t, srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "Success", resp.Status, path)
	}
}

func TestEnvelopeCRUD(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := do(t, srv, http.MethodPost, "/envelopes", `{"title":"Groceries","budget":"250,5"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeData[envelopeDTO](t, resp)
	assert.Equal(t, "Groceries", created.Title)
	assert.Equal(t, "250.50", created.Budget)
	assert.Equal(t, "/envelopes/1", rec.Header().Get("Location"))

	_, resp = do(t, srv, http.MethodGet, "/envelopes/1", "")
	assert.Equal(t, created, decodeData[envelopeDTO](t, resp))

	rec, resp = do(t, srv, http.MethodPut, "/envelopes/1", `{"title":"Food","budget":300}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, envelopeDTO{ID: 1, Title: "Food", Budget: "300.00"}, decodeData[envelopeDTO](t, resp))

	rec, _ = do(t, srv, http.MethodPost, "/envelopes/1", `{"title":"Food & drinks","budget":"310"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, resp = do(t, srv, http.MethodGet, "/envelopes", "")
	list := decodeData[[]envelopeDTO](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "Food & drinks", list[0].Title)

	rec, _ = do(t, srv, http.MethodDelete, "/envelopes/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, resp = do(t, srv, http.MethodGet, "/envelopes/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Failed", resp.Status)
	assert.Equal(t, "null", string(resp.Data))
}

func TestEnvelopeValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"empty title", http.MethodPost, "/envelopes", `{"title":"  ","budget":"10"}`, http.StatusBadRequest},
		{"negative budget", http.MethodPost, "/envelopes", `{"title":"Rent","budget":"-1"}`, http.StatusBadRequest},
		{"missing budget", http.MethodPost, "/envelopes", `{"title":"Rent"}`, http.StatusBadRequest},
		{"non numeric budget", http.MethodPost, "/envelopes", `{"title":"Rent","budget":"lots"}`, http.StatusBadRequest},
		{"budget past cents", http.MethodPost, "/envelopes", `{"title":"Rent","budget":"250.999"}`, http.StatusBadRequest},
		{"budget huge exponent", http.MethodPost, "/envelopes", `{"title":"Rent","budget":1e900000000}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/envelopes", `{"title":"Rent","budget":"1","color":"red"}`, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/envelopes", `{"title":`, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/envelopes", ``, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/envelopes/abc", ``, http.StatusBadRequest},
		{"zero id", http.MethodDelete, "/envelopes/0", ``, http.StatusBadRequest},
		{"update missing", http.MethodPut, "/envelopes/42", `{"title":"Rent","budget":"1"}`, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/envelopes/42", ``, http.StatusNotFound},
		{"unknown route", http.MethodGet, "/budgets", ``, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "Failed", resp.Status)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestWithdrawAndTransfer(t *testing.T) {
	srv := newTestServer(t)
	do(t, srv, http.MethodPost, "/envelopes", `{"title":"Savings","budget":"1000"}`)
	do(t, srv, http.MethodPost, "/envelopes", `{"title":"Holiday","budget":"200"}`)

	rec, resp := do(t, srv, http.MethodPost, "/envelopes/1/withdraw", `{"amount":"100.25","reference":"rent"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	withdrawal := decodeData[receiptDTO](t, resp)
	assert.Equal(t, "899.75", withdrawal.Source.Budget)
	assert.Nil(t, withdrawal.Destination)
	assert.Equal(t, "withdrawal", withdrawal.Transaction.Kind)
	assert.Nil(t, withdrawal.Transaction.Destination)

	rec, resp = do(t, srv, http.MethodPost, "/envelopes/transfer", `{"source_id":1,"destination_id":2,"amount":99.75,"reference":"trip"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	transfer := decodeData[receiptDTO](t, resp)
	assert.Equal(t, "800.00", transfer.Source.Budget)
	require.NotNil(t, transfer.Destination)
	assert.Equal(t, "299.75", transfer.Destination.Budget)
	assert.Equal(t, "transfer", transfer.Transaction.Kind)
	assert.Equal(t, &refDTO{ID: 2, Title: "Holiday"}, transfer.Transaction.Destination)

	_, resp = do(t, srv, http.MethodGet, "/transactions", "")
	txns := decodeData[[]transactionDTO](t, resp)
	require.Len(t, txns, 2)
	assert.Equal(t, withdrawal.Transaction.ID, txns[0].ID)

	_, resp = do(t, srv, http.MethodGet, "/transactions/2", "")
	assert.Equal(t, "trip", decodeData[transactionDTO](t, resp).Reference)

	_, resp = do(t, srv, http.MethodGet, "/envelopes/2/transactions", "")
	assert.Len(t, decodeData[[]transactionDTO](t, resp), 1)

	_, resp = do(t, srv, http.MethodGet, "/envelopes/summary", "")
	assert.Equal(t, summaryDTO{Envelopes: 2, TotalBudget: "1099.75"}, decodeData[summaryDTO](t, resp))
}

func TestMovementErrors(t *testing.T) {
	srv := newTestServer(t)
	do(t, srv, http.MethodPost, "/envelopes", `{"title":"A","budget":"50"}`)
	do(t, srv, http.MethodPost, "/envelopes", `{"title":"B","budget":"0"}`)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"withdraw over budget", "/envelopes/1/withdraw", `{"amount":"50.01"}`, http.StatusConflict},
		{"withdraw zero", "/envelopes/1/withdraw", `{"amount":"0"}`, http.StatusBadRequest},
		{"withdraw missing amount", "/envelopes/1/withdraw", `{"reference":"x"}`, http.StatusBadRequest},
		{"withdraw unknown envelope", "/envelopes/9/withdraw", `{"amount":"1"}`, http.StatusNotFound},
		{"self transfer", "/envelopes/transfer", `{"source_id":1,"destination_id":1,"amount":"1"}`, http.StatusBadRequest},
		{"transfer negative", "/envelopes/transfer", `{"source_id":1,"destination_id":2,"amount":"-5"}`, http.StatusBadRequest},
		{"transfer unknown destination", "/envelopes/transfer", `{"source_id":1,"destination_id":9,"amount":"1"}`, http.StatusNotFound},
		{"transfer over budget", "/envelopes/transfer", `{"source_id":2,"destination_id":1,"amount":"1"}`, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, srv, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "Failed", resp.Status)
		})
	}

	_, resp := do(t, srv, http.MethodGet, "/transactions", "")
	assert.Empty(t, decodeData[[]transactionDTO](t, resp))

	_, resp = do(t, srv, http.MethodGet, "/envelopes/1", "")
	assert.Equal(t, "50.00", decodeData[envelopeDTO](t, resp).Budget)
}

func TestConcurrentWithdrawalsOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	do(t, srv, http.MethodPost, "/envelopes", `{"title":"Shared","budget":"100"}`)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/envelopes/1/withdraw", strings.NewReader(`{"amount":"10"}`))
			rec := httptest.NewRecorder()
			srv.Handler.ServeHTTP(rec, req)
			mu.Lock()
			statuses[rec.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, statuses[http.StatusCreated])
	assert.Equal(t, 10, statuses[http.StatusConflict])

	_, resp := do(t, srv, http.MethodGet, "/envelopes/1", "")
	assert.Equal(t, "0.00", decodeData[envelopeDTO](t, resp).Budget)
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := do(t, srv, http.MethodGet, "/healthz", "")
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)

	supplied := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", supplied)
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, supplied, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRateLimitAppliesToWritesOnly(t *testing.T) {
	srv := newTestServer(t, WithRateLimit(2))

	for i := 0; i < 2; i++ {
		rec, _ := do(t, srv, http.MethodPost, "/envelopes", `{"title":"E","budget":"1"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec, resp := do(t, srv, http.MethodPost, "/envelopes", `{"title":"E","budget":"1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Failed", resp.Status)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec, _ = do(t, srv, http.MethodGet, "/envelopes", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	srv := newTestServer(t, WithMetrics(m))

	do(t, srv, http.MethodGet, "/envelopes/7", "")

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `path="/envelopes/:id"`)
	count, err := testutil.GatherAndCount(m.Registry, "envelopes_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWrongMethodOnKnownPath(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		code   int
		allow  string
	}{
		{"collection", http.MethodDelete, "/envelopes", http.StatusMethodNotAllowed, "GET, POST"},
		{"item", http.MethodPatch, "/envelopes/1", http.StatusMethodNotAllowed, "GET, POST, PUT, DELETE"},
		{"withdraw", http.MethodGet, "/envelopes/1/withdraw", http.StatusMethodNotAllowed, "POST"},
		{"transactions", http.MethodPost, "/transactions", http.StatusMethodNotAllowed, "GET"},
		{"unknown path", http.MethodGet, "/budgets", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, srv, tt.method, tt.path, "")
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "Failed", resp.Status)
			assert.Equal(t, tt.allow, rec.Header().Get("Allow"))
		})
	}
}
