package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"paghetta/internal/ledger/memory"
	"paghetta/internal/services"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memory.New()
	ledgerSvc := services.NewLedgerService(store, nil)
	queries := services.NewQueryService(store)
	scheduler := services.NewAllowanceScheduler(store, ledgerSvc)
	srv := NewServer(":0", ledgerSvc, queries, scheduler)
	t.Cleanup(func() { srv.rateLimiter.stop() })
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func createChild(t *testing.T, srv *Server, body string) childJSON {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/children", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create child status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[childJSON](t, rec)
}

func TestCreateAndListChildren(t *testing.T) {
	srv := newTestServer(t)

	child := createChild(t, srv, `{"name":"Giulia","weekly_allowance":"10.00","starting_balance":"25.00"}`)
	if child.Name != "Giulia" || child.WeeklyAllowance != 10 || child.Balance != 25 {
		t.Errorf("created child = %+v", child)
	}
	createChild(t, srv, `{"name":"Luca","weekly_allowance":5}`)

	rec := doJSON(t, srv, http.MethodGet, "/api/children", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	children := decode[[]childJSON](t, rec)
	if len(children) != 2 || children[0].Name != "Giulia" || children[1].Name != "Luca" {
		t.Errorf("children = %+v, want Giulia then Luca", children)
	}
	if children[1].WeeklyAllowance != 5 {
		t.Errorf("numeric weekly_allowance = %v, want 5", children[1].WeeklyAllowance)
	}
}

func TestCreateChildValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty name", `{"name":"  "}`, http.StatusUnprocessableEntity},
		{"name too long", `{"name":"` + strings.Repeat("a", 150) + `"}`, http.StatusUnprocessableEntity},
		{"negative rate", `{"name":"Luca","weekly_allowance":"-5"}`, http.StatusUnprocessableEntity},
		{"negative opening", `{"name":"Luca","starting_balance":"-1"}`, http.StatusUnprocessableEntity},
		{"malformed amount", `{"name":"Luca","weekly_allowance":"abc"}`, http.StatusUnprocessableEntity},
		{"bad json", `{"name"`, http.StatusBadRequest},
		{"bad start date", `{"name":"Luca","allowance_start_date":"23-08-2026"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/children", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestPurchaseFlow(t *testing.T) {
	srv := newTestServer(t)
	child := createChild(t, srv, `{"name":"Giulia","starting_balance":"20.00"}`)

	rec := doJSON(t, srv, http.MethodPost, "/api/purchase",
		`{"child_id":`+itoa(child.ID)+`,"amount":"7.50","note":"gelato"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("purchase status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[mutationResponse](t, rec)
	if resp.Transaction.Amount != -7.5 || resp.Transaction.Kind != "purchase" {
		t.Errorf("transaction = %+v, want purchase of -7.5", resp.Transaction)
	}
	if resp.Balance != 12.5 {
		t.Errorf("balance = %v, want 12.5", resp.Balance)
	}
}

func TestPurchaseValidation(t *testing.T) {
	srv := newTestServer(t)
	child := createChild(t, srv, `{"name":"Giulia"}`)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"zero amount", `{"child_id":` + itoa(child.ID) + `,"amount":"0"}`, http.StatusUnprocessableEntity},
		{"negative amount", `{"child_id":` + itoa(child.ID) + `,"amount":"-5"}`, http.StatusUnprocessableEntity},
		{"unknown child", `{"child_id":9999,"amount":"5"}`, http.StatusNotFound},
		{"missing amount", `{"child_id":` + itoa(child.ID) + `}`, http.StatusUnprocessableEntity},
		{"note too long", `{"child_id":` + itoa(child.ID) + `,"amount":"5","note":"` + strings.Repeat("x", 250) + `"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/purchase", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAdjustEitherSign(t *testing.T) {
	srv := newTestServer(t)
	child := createChild(t, srv, `{"name":"Giulia"}`)

	rec := doJSON(t, srv, http.MethodPost, "/api/adjust",
		`{"child_id":`+itoa(child.ID)+`,"amount":"-3.00","note":"lost toy"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("adjust status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[mutationResponse](t, rec)
	if resp.Balance != -3 {
		t.Errorf("balance = %v, want -3 (negative balances permitted)", resp.Balance)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/adjust",
		`{"child_id":`+itoa(child.ID)+`,"amount":"10.00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("positive adjust status = %d", rec.Code)
	}
	resp = decode[mutationResponse](t, rec)
	if resp.Transaction.Note != "Manual adjustment" {
		t.Errorf("note = %q, want default", resp.Transaction.Note)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/adjust",
		`{"child_id":`+itoa(child.ID)+`,"amount":"0"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("zero adjust status = %d, want 422", rec.Code)
	}
}

func TestUpdateAllowanceAndHistory(t *testing.T) {
	srv := newTestServer(t)
	child := createChild(t, srv, `{"name":"Giulia","starting_balance":"5.00"}`)

	rec := doJSON(t, srv, http.MethodPost, "/api/children/"+itoa(child.ID)+"/allowance",
		`{"weekly_allowance":"12.50"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update allowance status = %d, body %s", rec.Code, rec.Body.String())
	}
	updated := decode[childJSON](t, rec)
	if updated.WeeklyAllowance != 12.5 {
		t.Errorf("weekly_allowance = %v, want 12.5", updated.WeeklyAllowance)
	}

	doJSON(t, srv, http.MethodPost, "/api/purchase",
		`{"child_id":`+itoa(child.ID)+`,"amount":"1.00"}`)

	rec = doJSON(t, srv, http.MethodGet, "/api/children/"+itoa(child.ID)+"/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	history := decode[[]transactionJSON](t, rec)
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	if history[0].Kind != "purchase" || history[1].Kind != "opening" {
		t.Errorf("history order = %s then %s, want purchase then opening", history[0].Kind, history[1].Kind)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/children/9999/history", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown child history status = %d, want 404", rec.Code)
	}
}

func TestDeleteChild(t *testing.T) {
	srv := newTestServer(t)
	child := createChild(t, srv, `{"name":"Giulia"}`)

	rec := doJSON(t, srv, http.MethodDelete, "/api/children/"+itoa(child.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/children/"+itoa(child.ID), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/children", "")
	if got := decode[[]childJSON](t, rec); len(got) != 0 {
		t.Errorf("children after delete = %+v, want empty", got)
	}
}

func TestAllowanceRun(t *testing.T) {
	srv := newTestServer(t)
	createChild(t, srv, `{"name":"Giulia","weekly_allowance":"10.00","allowance_start_date":"2026-08-03"}`)

	rec := doJSON(t, srv, http.MethodPost, "/api/allowance/run", `{"now":"2026-08-26T10:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d, body %s", rec.Code, rec.Body.String())
	}
	result := decode[map[string]int](t, rec)
	if result["credited"] != 3 {
		t.Errorf("credited = %d, want 3", result["credited"])
	}

	// Replay is a no-op.
	rec = doJSON(t, srv, http.MethodPost, "/api/allowance/run", `{"now":"2026-08-26T10:00:00Z"}`)
	result = decode[map[string]int](t, rec)
	if result["credited"] != 0 {
		t.Errorf("replay credited = %d, want 0", result["credited"])
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/allowance/run", `{"now":"not-a-date"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad now status = %d, want 400", rec.Code)
	}
}

func TestMethodDispatch(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPut, "/api/children"},
		{http.MethodGet, "/api/purchase"},
		{http.MethodGet, "/api/adjust"},
		{http.MethodGet, "/api/allowance/run"},
		{http.MethodPost, "/api/children/1/history"},
	}
	for _, tt := range tests {
		rec := doJSON(t, srv, tt.method, tt.path, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s status = %d, want 405", tt.method, tt.path, rec.Code)
		}
	}

	rec := doJSON(t, srv, http.MethodDelete, "/api/children/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/health", "/healthz", "/readyz"} {
		rec := doJSON(t, srv, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestRateLimiterBoundsMutations(t *testing.T) {
	srv := newTestServer(t)

	limited := false
	for i := 0; i < 70; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/children", `{"name":"Giulia"}`)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("expected rate limiter to reject a burst of 70 mutations")
	}

	// Reads stay unthrottled.
	rec := doJSON(t, srv, http.MethodGet, "/api/children", "")
	if rec.Code != http.StatusOK {
		t.Errorf("read after throttle status = %d, want 200", rec.Code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
