package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jordanvale/loanbridge-backend/internal/lifecycle"
	"github.com/jordanvale/loanbridge-backend/internal/loans"
	"github.com/jordanvale/loanbridge-backend/internal/transactions"
	"github.com/jordanvale/loanbridge-backend/pkg/config"
	pkgerrors "github.com/jordanvale/loanbridge-backend/pkg/errors"
	"github.com/jordanvale/loanbridge-backend/pkg/logger"
	"github.com/jordanvale/loanbridge-backend/pkg/processor"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

func setupRoutesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_busy_timeout=5000"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{`
CREATE TABLE IF NOT EXISTS loans (
  id TEXT PRIMARY KEY,
  borrower_ref TEXT NOT NULL,
  principal_amount NUMERIC NOT NULL,
  remaining_balance NUMERIC NOT NULL,
  interest_rate NUMERIC NOT NULL,
  term_installments INTEGER NOT NULL,
  frequency TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending_disbursement',
  first_due_date DATETIME,
  activated_at DATETIME,
  closed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS payment_transactions (
  id TEXT PRIMARY KEY,
  loan_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  schedule_slot INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  external_id TEXT,
  error_code TEXT,
  retry_count INTEGER NOT NULL DEFAULT 0,
  due_date DATETIME,
  initiated_at DATETIME,
  authorized_at DATETIME,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_transactions_active_slot
  ON payment_transactions (loan_id, kind, schedule_slot)
  WHERE status IN ('pending', 'initiated', 'authorized');`}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type gormRunner struct {
	db *gorm.DB
}

func (r *gormRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubGateway struct {
	mu       sync.Mutex
	statuses map[string]*processor.RemoteStatus
	nextID   int
}

func newStubGateway() *stubGateway {
	return &stubGateway{statuses: map[string]*processor.RemoteStatus{}}
}

func (g *stubGateway) Initiate(_ context.Context, _ processor.InitiateParams) (*processor.InitiateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	externalID := fmt.Sprintf("EXT-%d", g.nextID)
	g.statuses[externalID] = &processor.RemoteStatus{ExternalID: externalID, State: processor.StateAccepted}
	return &processor.InitiateResult{ExternalID: externalID, State: processor.StateAccepted}, nil
}

func (g *stubGateway) Authorize(_ context.Context, externalID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[externalID] = &processor.RemoteStatus{ExternalID: externalID, State: processor.StateAuthorized}
	return nil
}

func (g *stubGateway) FetchStatus(_ context.Context, externalID string) (*processor.RemoteStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.statuses[externalID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment")
	}
	copied := *status
	return &copied, nil
}

func (g *stubGateway) settle(externalID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	settled := time.Now().UTC()
	g.statuses[externalID] = &processor.RemoteStatus{ExternalID: externalID, State: processor.StateSettled, SettledAt: &settled}
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
	}
}

func newTestRouter(t *testing.T) (http.Handler, *stubGateway) {
	t.Helper()

	db := setupRoutesTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})

	ledger, err := transactions.NewLedger(transactions.NewRepository(db))
	require.NoError(t, err)
	loanService, err := loans.NewService(loans.NewRepository(db), ledger)
	require.NoError(t, err)

	gateway := newStubGateway()
	lifecycleService, err := lifecycle.NewService(lifecycle.Params{
		Runner:  &gormRunner{db: db},
		Loans:   loanService,
		Ledger:  ledger,
		Gateway: gateway,
		Logger:  logg,
	})
	require.NoError(t, err)

	router := NewRouter(testConfig(), logg, stubPinger{}, nil, loanService, ledger, lifecycleService)
	return router, gateway
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	payload := map[string]any{}
	if resp.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	}
	return resp, payload
}

func dataField(t *testing.T, payload map[string]any, key string) any {
	t.Helper()
	data, ok := payload["data"].(map[string]any)
	require.True(t, ok, "expected data envelope, got %v", payload)
	return data[key]
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	resp, _ := doJSON(t, router, http.MethodGet, "/health/live", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "test", resp.Header().Get("X-LoanBridge-Env"))

	resp, payload := doJSON(t, router, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ready", dataField(t, payload, "status"))
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	router, gateway := newTestRouter(t)

	createBody := `{
		"borrower_ref": "borrower-http-1",
		"principal_amount": "500.00",
		"interest_rate": "0.10",
		"term_installments": 5,
		"frequency": "monthly",
		"first_due_date": "2026-10-01T00:00:00Z"
	}`
	resp, payload := doJSON(t, router, http.MethodPost, "/api/v1/loans", createBody)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	loanID, _ := dataField(t, payload, "id").(string)
	require.NotEmpty(t, loanID)
	assert.Equal(t, "550.00", dataField(t, payload, "remaining_balance"))
	assert.Equal(t, "pending_disbursement", dataField(t, payload, "status"))

	resp, payload = doJSON(t, router, http.MethodPost, "/api/v1/loans/"+loanID+"/disbursement", "")
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())
	txnID, _ := dataField(t, payload, "id").(string)
	require.NotEmpty(t, txnID)
	externalID, _ := dataField(t, payload, "external_id").(string)
	require.NotEmpty(t, externalID)
	assert.Equal(t, "initiated", dataField(t, payload, "status"))

	resp, payload = doJSON(t, router, http.MethodPost, "/api/v1/transactions/"+txnID+"/authorize", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "authorized", dataField(t, payload, "status"))

	gateway.settle(externalID)
	resp, payload = doJSON(t, router, http.MethodPost, "/api/v1/transactions/"+txnID+"/confirm", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "completed", dataField(t, payload, "status"))

	resp, payload = doJSON(t, router, http.MethodGet, "/api/v1/loans/"+loanID, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "active", dataField(t, payload, "status"))

	resp, payload = doJSON(t, router, http.MethodGet, "/api/v1/loans/"+loanID+"/transactions", "")
	require.Equal(t, http.StatusOK, resp.Code)
	items, _ := dataField(t, payload, "items").([]any)
	// disbursement plus five materialized collection slots
	assert.Len(t, items, 6)
}

func TestConfirmBeforeSettlementConflicts(t *testing.T) {
	router, _ := newTestRouter(t)

	createBody := `{
		"borrower_ref": "borrower-http-2",
		"principal_amount": "300.00",
		"interest_rate": "0",
		"term_installments": 3,
		"frequency": "weekly",
		"first_due_date": "2026-10-01T00:00:00Z"
	}`
	resp, payload := doJSON(t, router, http.MethodPost, "/api/v1/loans", createBody)
	require.Equal(t, http.StatusCreated, resp.Code)
	loanID, _ := dataField(t, payload, "id").(string)

	resp, payload = doJSON(t, router, http.MethodPost, "/api/v1/loans/"+loanID+"/disbursement", "")
	require.Equal(t, http.StatusAccepted, resp.Code)
	txnID, _ := dataField(t, payload, "id").(string)

	resp, _ = doJSON(t, router, http.MethodPost, "/api/v1/transactions/"+txnID+"/authorize", "")
	require.Equal(t, http.StatusOK, resp.Code)

	// processor still reports authorized; completion must not be recorded
	resp, payload = doJSON(t, router, http.MethodPost, "/api/v1/transactions/"+txnID+"/confirm", "")
	require.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())
	errPayload, _ := payload["error"].(map[string]any)
	require.NotNil(t, errPayload)
	assert.Equal(t, string(pkgerrors.CodeConflict), errPayload["code"])
}

func TestLoanValidationErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	resp, _ := doJSON(t, router, http.MethodPost, "/api/v1/loans", `{"borrower_ref":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp, _ = doJSON(t, router, http.MethodGet, "/api/v1/loans/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp, _ = doJSON(t, router, http.MethodGet, "/api/v1/loans/6a6f7264-616e-7661-6c65-000000000001", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCollectionRequiresActiveLoanOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	createBody := `{
		"borrower_ref": "borrower-http-3",
		"principal_amount": "200.00",
		"interest_rate": "0",
		"term_installments": 2,
		"frequency": "biweekly",
		"first_due_date": "2026-10-01T00:00:00Z"
	}`
	resp, payload := doJSON(t, router, http.MethodPost, "/api/v1/loans", createBody)
	require.Equal(t, http.StatusCreated, resp.Code)
	loanID, _ := dataField(t, payload, "id").(string)

	resp, _ = doJSON(t, router, http.MethodPost, "/api/v1/loans/"+loanID+"/collections", `{"schedule_slot":1}`)
	assert.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())
}
