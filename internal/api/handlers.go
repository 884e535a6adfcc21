package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

type balanceEntry struct {
	ParticipantID int64   `json:"participant_id"`
	Name          string  `json:"name"`
	Net           float64 `json:"net"`
}

type transferEntry struct {
	From     int64   `json:"from"`
	FromName string  `json:"from_name"`
	To       int64   `json:"to"`
	ToName   string  `json:"to_name"`
	Amount   float64 `json:"amount"`
}

type expenseEntry struct {
	ID               int64    `json:"id"`
	PayerID          int64    `json:"payer_id"`
	PayerName        string   `json:"payer_name"`
	Amount           float64  `json:"amount"`
	Description      string   `json:"description"`
	Category         string   `json:"category"`
	Timestamp        string   `json:"timestamp"`
	OriginalAmount   float64  `json:"original_amount,omitempty"`
	OriginalCurrency string   `json:"original_currency,omitempty"`
	FXRate           *float64 `json:"fx_rate,omitempty"`
	FXFallback       bool     `json:"fx_fallback"`
}

// chatFromRequest parses the chat id and verifies the caller is one of
// the chat's registered participants.
func (a *API) chatFromRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	vars := mux.Vars(r)
	chatID, err := strconv.ParseInt(vars["chat_id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid chat_id", http.StatusBadRequest)
		return 0, false
	}

	claims := claimsFrom(r)
	if claims == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return 0, false
	}
	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return 0, false
	}

	participants, err := a.ledger.Participants(r.Context(), chatID)
	if err != nil {
		http.Error(w, "failed to list participants", http.StatusInternalServerError)
		return 0, false
	}
	for _, p := range participants {
		if p.ID == userID {
			return chatID, true
		}
	}
	http.Error(w, "forbidden", http.StatusForbidden)
	return 0, false
}

func (a *API) handleBalances(w http.ResponseWriter, r *http.Request) {
	chatID, ok := a.chatFromRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	balances, err := a.ledger.Balances(ctx, chatID)
	if err != nil {
		http.Error(w, "failed to compute balances", http.StatusInternalServerError)
		return
	}
	currency, names, ok := a.chatContext(ctx, w, chatID)
	if !ok {
		return
	}

	entries := make([]balanceEntry, 0, len(balances))
	for id, net := range balances {
		entries = append(entries, balanceEntry{ParticipantID: id, Name: names[id], Net: net})
	}
	writeJSON(w, map[string]interface{}{
		"currency": currency,
		"balances": entries,
	})
}

func (a *API) handleSettlements(w http.ResponseWriter, r *http.Request) {
	chatID, ok := a.chatFromRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	transfers, err := a.ledger.Settlements(ctx, chatID)
	if err != nil {
		http.Error(w, "failed to compute settlements", http.StatusInternalServerError)
		return
	}
	currency, names, ok := a.chatContext(ctx, w, chatID)
	if !ok {
		return
	}

	entries := make([]transferEntry, 0, len(transfers))
	for _, t := range transfers {
		entries = append(entries, transferEntry{
			From: t.From, FromName: names[t.From],
			To: t.To, ToName: names[t.To],
			Amount: t.Amount,
		})
	}
	writeJSON(w, map[string]interface{}{
		"currency":  currency,
		"transfers": entries,
	})
}

const expensesPageSize = 50

func (a *API) handleExpenses(w http.ResponseWriter, r *http.Request) {
	chatID, ok := a.chatFromRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	page := 0
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		page = n - 1
	}

	total, err := a.ledger.CountExpenses(ctx, chatID)
	if err != nil {
		http.Error(w, "failed to count expenses", http.StatusInternalServerError)
		return
	}
	expenses, err := a.ledger.ExpensesPage(ctx, chatID, page, expensesPageSize)
	if err != nil {
		http.Error(w, "failed to list expenses", http.StatusInternalServerError)
		return
	}
	currency, names, ok := a.chatContext(ctx, w, chatID)
	if !ok {
		return
	}

	entries := make([]expenseEntry, 0, len(expenses))
	for _, e := range expenses {
		entry := expenseEntry{
			ID:          e.ID,
			PayerID:     e.PayerID,
			PayerName:   names[e.PayerID],
			Amount:      e.Amount,
			Description: e.Description,
			Category:    e.Category,
			Timestamp:   e.Timestamp.UTC().Format(time.RFC3339),
			FXFallback:  e.FXFallback,
		}
		if e.OriginalCurrency != "" && e.OriginalCurrency != currency {
			entry.OriginalAmount = e.OriginalAmount
			entry.OriginalCurrency = e.OriginalCurrency
			entry.FXRate = e.FXRate
		}
		entries = append(entries, entry)
	}
	writeJSON(w, map[string]interface{}{
		"currency": currency,
		"total":    total,
		"page":     page + 1,
		"expenses": entries,
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	chatID, ok := a.chatFromRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	totals, err := a.ledger.CategoryTotals(ctx, chatID)
	if err != nil {
		http.Error(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}
	currency, err := a.ledger.BaseCurrency(ctx, chatID)
	if err != nil {
		http.Error(w, "failed to look up currency", http.StatusInternalServerError)
		return
	}

	type categoryEntry struct {
		Category string  `json:"category"`
		Total    float64 `json:"total"`
	}
	entries := make([]categoryEntry, 0, len(totals))
	for _, t := range totals {
		entries = append(entries, categoryEntry{Category: t.Category, Total: t.Total})
	}
	writeJSON(w, map[string]interface{}{
		"currency":   currency,
		"categories": entries,
	})
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	chatID, ok := a.chatFromRequest(w, r)
	if !ok {
		return
	}

	data, err := a.ledger.ExportCSV(r.Context(), chatID)
	if err != nil {
		http.Error(w, "failed to export", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="expenses-%d.csv"`, chatID))
	w.Write(data)
}

func (a *API) chatContext(ctx context.Context, w http.ResponseWriter, chatID int64) (string, map[int64]string, bool) {
	currency, err := a.ledger.BaseCurrency(ctx, chatID)
	if err != nil {
		http.Error(w, "failed to look up currency", http.StatusInternalServerError)
		return "", nil, false
	}
	names, err := a.ledger.ParticipantNames(ctx, chatID)
	if err != nil {
		http.Error(w, "failed to list participants", http.StatusInternalServerError)
		return "", nil, false
	}
	return currency, names, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
