package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"regexp"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/susu3304/splitbot/internal/fx"
	"github.com/susu3304/splitbot/internal/ledger"
)

// Result is a structured expense candidate extracted from free text.
type Result struct {
	Amount      float64
	Description string
	Category    string
}

// Extractor turns raw chat messages into expense candidates. When an API
// key is configured it asks a chat-completion model; otherwise (or on any
// model failure) it degrades to a regex amount scan. Extraction never
// blocks expense capture on external failures.
type Extractor struct {
	client *openai.Client
	model  string
}

func New(apiKey, model string) *Extractor {
	e := &Extractor{model: model}
	if apiKey != "" {
		e.client = openai.NewClient(apiKey)
	}
	return e
}

// Enabled reports whether the model-backed extractor is configured.
func (e *Extractor) Enabled() bool {
	return e.client != nil
}

var (
	amountPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	jsonPattern   = regexp.MustCompile(`(?s)\{.*\}`)
)

// Extract parses text into an expense candidate. ok is false when no
// amount could be found by any means.
func (e *Extractor) Extract(ctx context.Context, text, baseCurrency string) (Result, bool) {
	if e.client != nil {
		if res, ok := e.extractModel(ctx, text, baseCurrency); ok {
			return res, true
		}
	}
	return extractRegex(text)
}

func (e *Extractor) extractModel(ctx context.Context, text, baseCurrency string) (Result, bool) {
	prompt := fmt.Sprintf(
		"You are an expense extraction assistant. Return ONLY a JSON object with keys: "+
			"amount (number), description (string), category (one of %s). "+
			"If unsure, pick 'other'. Currency context: %s. Message: %s",
		strings.Join(ledger.Categories, ", "), baseCurrency, text,
	)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		log.Printf("extract: model request failed: %v", err)
		return Result{}, false
	}
	if len(resp.Choices) == 0 {
		return Result{}, false
	}

	raw := jsonPattern.FindString(resp.Choices[0].Message.Content)
	if raw == "" {
		return Result{}, false
	}
	var payload struct {
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
		Category    string  `json:"category"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		log.Printf("extract: bad model JSON: %v", err)
		return Result{}, false
	}
	if payload.Amount <= 0 {
		return Result{}, false
	}
	desc := payload.Description
	if desc == "" {
		desc = "(no description)"
	}
	return Result{
		Amount:      round2(payload.Amount),
		Description: desc,
		Category:    ledger.NormalizeCategory(payload.Category),
	}, true
}

func extractRegex(text string) (Result, bool) {
	m := amountPattern.FindString(text)
	if m == "" {
		return Result{}, false
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil || amount <= 0 {
		return Result{}, false
	}
	desc := strings.TrimSpace(strings.Replace(text, m, "", 1))
	if desc == "" {
		desc = "(no description)"
	}
	category := "other"
	if fields := strings.Fields(desc); len(fields) > 0 {
		category = ledger.NormalizeCategory(fields[0])
	}
	return Result{Amount: round2(amount), Description: desc, Category: category}, true
}

// connectors are short trailing words left dangling once a currency token
// is stripped ("120 שח על מצות" -> description "מצות", not "על").
var connectors = map[string]bool{
	"ב": true, "על": true, "עם": true,
	"for": true, "at": true, "on": true, "to": true,
}

// CleanDescription removes a trailing currency mention and any dangling
// connector words so the stored description does not repeat the currency.
func CleanDescription(desc string) string {
	tokens := strings.Fields(desc)
	if len(tokens) > 0 && fx.IsCurrencyToken(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	for len(tokens) > 0 && connectors[strings.ToLower(tokens[len(tokens)-1])] {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return "(no description)"
	}
	return strings.Join(tokens, " ")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
