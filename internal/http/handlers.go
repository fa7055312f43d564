package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paghetta/internal/core"
	"paghetta/internal/ledger"
)

// moneyField accepts a monetary amount as either a JSON number or a
// decimal string, in currency units. Cents conversion happens via the
// core parsers so the rounding rules stay in one place.
type moneyField struct {
	raw string
	set bool
}

func (m *moneyField) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if len(s) > 0 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = str
	}
	m.raw = s
	m.set = true
	return nil
}

func (m moneyField) cents() (int64, error) {
	if !m.set {
		return 0, nil
	}
	return core.ParseDecimalToCents(m.raw)
}

func (m moneyField) signedCents() (int64, error) {
	if !m.set {
		return 0, core.ErrInvalidAmount
	}
	return core.ParseSignedDecimalToCents(m.raw)
}

type childJSON struct {
	ID                  int64   `json:"id"`
	Name                string  `json:"name"`
	WeeklyAllowance     float64 `json:"weekly_allowance"`
	Balance             float64 `json:"balance"`
	AllowanceStartDate  string  `json:"allowance_start_date"`
	LastAllowancePeriod *string `json:"last_allowance_period"`
	CreatedAt           string  `json:"created_at"`
}

type transactionJSON struct {
	ID        int64   `json:"id"`
	ChildID   int64   `json:"child_id"`
	Kind      string  `json:"kind"`
	Amount    float64 `json:"amount"`
	Note      string  `json:"note"`
	Timestamp string  `json:"timestamp"`
}

func toChildJSON(a *core.Account) childJSON {
	out := childJSON{
		ID:                 a.ID,
		Name:               a.Name,
		WeeklyAllowance:    a.WeeklyAllowance.Units(),
		Balance:            a.Balance.Units(),
		AllowanceStartDate: a.AllowanceStartDate.Format("2006-01-02"),
		CreatedAt:          a.CreatedAt.Format(time.RFC3339),
	}
	if a.LastAllowancePeriod != nil {
		p := a.LastAllowancePeriod.String()
		out.LastAllowancePeriod = &p
	}
	return out
}

func toTransactionJSON(t *core.Transaction) transactionJSON {
	return transactionJSON{
		ID:        t.ID,
		ChildID:   t.AccountID,
		Kind:      string(t.Kind),
		Amount:    t.Amount.Units(),
		Note:      t.Note,
		Timestamp: t.Timestamp.Format(time.RFC3339),
	}
}

// handleChildren serves GET (list) and POST (create) on /api/children
func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listChildren(w, r)
	case http.MethodPost:
		s.createChild(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) listChildren(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.queries.Summaries(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]childJSON, 0, len(accounts))
	for i := range accounts {
		out = append(out, toChildJSON(&accounts[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createChild(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name               string     `json:"name"`
		WeeklyAllowance    moneyField `json:"weekly_allowance"`
		StartingBalance    moneyField `json:"starting_balance"`
		AllowanceStartDate string     `json:"allowance_start_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rate, err := req.WeeklyAllowance.cents()
	if err != nil {
		writeError(w, r, err)
		return
	}
	opening, err := req.StartingBalance.cents()
	if err != nil {
		writeError(w, r, err)
		return
	}

	var startDate time.Time
	if v := strings.TrimSpace(req.AllowanceStartDate); v != "" {
		startDate, err = time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			writeBadRequest(w, "invalid allowance_start_date, expected YYYY-MM-DD")
			return
		}
	}

	acct, err := s.ledger.CreateAccount(r.Context(), ledger.NewAccount{
		Name:                 strings.TrimSpace(req.Name),
		WeeklyAllowanceCents: rate,
		StartingBalanceCents: opening,
		AllowanceStartDate:   startDate,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChildJSON(acct))
}

// handleChildByID dispatches /api/children/{id}, /api/children/{id}/allowance
// and /api/children/{id}/history
func (s *Server) handleChildByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/children/")
	parts := strings.SplitN(rest, "/", 2)

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id < 1 {
		writeBadRequest(w, "invalid child id")
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch sub {
	case "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, "DELETE")
			return
		}
		s.deleteChild(w, r, id)
	case "allowance":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, "POST")
			return
		}
		s.updateAllowance(w, r, id)
	case "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, "GET")
			return
		}
		s.childHistory(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	}
}

func (s *Server) deleteChild(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.ledger.DeleteAccount(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) updateAllowance(w http.ResponseWriter, r *http.Request, id int64) {
	var req struct {
		WeeklyAllowance moneyField `json:"weekly_allowance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !req.WeeklyAllowance.set {
		writeBadRequest(w, "weekly_allowance is required")
		return
	}

	rate, err := req.WeeklyAllowance.cents()
	if err != nil {
		writeError(w, r, err)
		return
	}

	acct, err := s.ledger.EditWeeklyAllowance(r.Context(), id, rate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChildJSON(acct))
}

func (s *Server) childHistory(w http.ResponseWriter, r *http.Request, id int64) {
	txs, err := s.queries.History(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]transactionJSON, 0, len(txs))
	for i := range txs {
		out = append(out, toTransactionJSON(&txs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

type mutationResponse struct {
	Transaction transactionJSON `json:"transaction"`
	Balance     float64         `json:"balance"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	var req struct {
		ChildID int64      `json:"child_id"`
		Amount  moneyField `json:"amount"`
		Note    string     `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// Spend amounts are unsigned on the wire; the ledger stores them
	// negated.
	cents, err := req.Amount.cents()
	if err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := s.ledger.RecordPurchase(r.Context(), req.ChildID, cents, strings.TrimSpace(req.Note))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeMutation(w, r, tx)
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	var req struct {
		ChildID int64      `json:"child_id"`
		Amount  moneyField `json:"amount"`
		Note    string     `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cents, err := req.Amount.signedCents()
	if err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := s.ledger.RecordAdjustment(r.Context(), req.ChildID, cents, strings.TrimSpace(req.Note))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeMutation(w, r, tx)
}

func (s *Server) writeMutation(w http.ResponseWriter, r *http.Request, tx *core.Transaction) {
	resp := mutationResponse{Transaction: toTransactionJSON(tx)}
	if acct, err := s.queries.Account(r.Context(), tx.AccountID); err == nil {
		resp.Balance = acct.Balance.Units()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleAllowanceRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	now := time.Now()
	if r.Body != nil {
		var req struct {
			Now string `json:"now"`
		}
		// An empty body means "run now".
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && strings.TrimSpace(req.Now) != "" {
			parsed, err := time.Parse(time.RFC3339, req.Now)
			if err != nil {
				writeBadRequest(w, "invalid now, expected RFC 3339")
				return
			}
			now = parsed
		}
	}

	credited, err := s.scheduler.Run(r.Context(), now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"credited": credited})
}
