package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var exportHeader = []string{
	"id", "payer", "amount", "currency", "description", "category",
	"timestamp_iso", "original_amount", "original_currency", "fx_rate",
	"fx_fallback", "participants",
}

// ExportCSV renders the full expense history as audit-quality CSV: one row
// per expense including the original amount, currency, rate and fallback
// flag when a conversion occurred, and the snapshotted participant ids.
func (s *Service) ExportCSV(ctx context.Context, chatID int64) ([]byte, error) {
	chat, err := s.EnsureChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	expenses, err := s.store.Expenses(ctx, chatID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, e := range expenses {
		participants := make([]string, 0, len(e.Shares))
		for _, sh := range e.Shares {
			participants = append(participants, strconv.FormatInt(sh.ParticipantID, 10))
		}
		rate := ""
		if e.FXRate != nil {
			rate = fmt.Sprintf("%.6f", *e.FXRate)
		}
		originalAmount := ""
		originalCurrency := ""
		if e.OriginalCurrency != "" {
			originalAmount = fmt.Sprintf("%.2f", e.OriginalAmount)
			originalCurrency = e.OriginalCurrency
		}
		fallback := "0"
		if e.FXFallback {
			fallback = "1"
		}
		row := []string{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.PayerID, 10),
			fmt.Sprintf("%.2f", e.Amount),
			chat.Currency,
			e.Description,
			e.Category,
			e.Timestamp.UTC().Format(time.RFC3339),
			originalAmount,
			originalCurrency,
			rate,
			fallback,
			strings.Join(participants, ";"),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
