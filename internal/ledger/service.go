package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidInput covers validation rejections: non-positive amounts,
	// empty participant sets, malformed currency codes. Nothing is written
	// when it is returned.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCurrencyLocked is returned when changing the base currency after
	// the chat already has expenses.
	ErrCurrencyLocked = errors.New("currency locked after first expense")

	// ErrDuplicateName is returned when a virtual participant name collides
	// (case-insensitively) with an existing participant.
	ErrDuplicateName = errors.New("participant name already exists")
)

// Store is the persistence boundary for the ledger engine. InsertExpense
// must atomically persist the expense row together with the participant
// weight snapshots; AddVirtualParticipant must atomically allocate the next
// id from the chat's virtual sequence.
type Store interface {
	EnsureChat(ctx context.Context, chatID int64, currency string) error
	Chat(ctx context.Context, chatID int64) (*Chat, error)
	SetCurrency(ctx context.Context, chatID int64, currency string) error

	EnsureParticipant(ctx context.Context, chatID, participantID int64, name string) error
	AddVirtualParticipant(ctx context.Context, chatID int64, name string) (int64, error)
	SetWeight(ctx context.Context, chatID, participantID int64, weight float64) error
	Participants(ctx context.Context, chatID int64) ([]Participant, error)

	InsertExpense(ctx context.Context, e *Expense, participantIDs []int64) (int64, error)
	NextExpenseID(ctx context.Context, chatID int64) (int64, error)
	Expenses(ctx context.Context, chatID int64) ([]Expense, error)
	ListExpenses(ctx context.Context, chatID int64, limit, offset int) ([]Expense, error)
	CountExpenses(ctx context.Context, chatID int64) (int, error)
	CategoryTotals(ctx context.Context, chatID int64) ([]CategoryTotal, error)

	ResetChat(ctx context.Context, chatID int64) error
}

// RateResolver yields a FROM->TO rate plus a fallback flag; ok is false
// when no rate could be obtained. Satisfied by fx.Resolver.
type RateResolver interface {
	Resolve(ctx context.Context, from, to string) (rate float64, fallback bool, ok bool)
}

// Service is the shared-expense ledger engine. Mutations for one chat are
// serialized through a per-chat mutex; different chats proceed
// concurrently. Rate resolution happens outside the chat locks.
type Service struct {
	store           Store
	rates           RateResolver
	defaultCurrency string

	mu        sync.Mutex
	chatLocks map[int64]*sync.Mutex
}

func NewService(store Store, rates RateResolver, defaultCurrency string) *Service {
	return &Service{
		store:           store,
		rates:           rates,
		defaultCurrency: defaultCurrency,
		chatLocks:       make(map[int64]*sync.Mutex),
	}
}

func (s *Service) chatLock(chatID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.chatLocks[chatID]
	if !ok {
		m = &sync.Mutex{}
		s.chatLocks[chatID] = m
	}
	return m
}

// EnsureChat creates the chat scope with the default base currency if
// missing and returns it.
func (s *Service) EnsureChat(ctx context.Context, chatID int64) (*Chat, error) {
	if err := s.store.EnsureChat(ctx, chatID, s.defaultCurrency); err != nil {
		return nil, fmt.Errorf("failed to ensure chat %d: %w", chatID, err)
	}
	chat, err := s.store.Chat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, fmt.Errorf("chat %d missing after ensure", chatID)
	}
	return chat, nil
}

// BaseCurrency returns the chat's base currency, creating the chat if needed.
func (s *Service) BaseCurrency(ctx context.Context, chatID int64) (string, error) {
	chat, err := s.EnsureChat(ctx, chatID)
	if err != nil {
		return "", err
	}
	return chat.Currency, nil
}

// SetBaseCurrency changes the base currency. Refused once the chat has any
// expense, since stored amounts are normalized to the old currency.
func (s *Service) SetBaseCurrency(ctx context.Context, chatID int64, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !isCurrencyCode(code) {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidInput)
	}
	chat, err := s.EnsureChat(ctx, chatID)
	if err != nil {
		return err
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	if code == chat.Currency {
		return nil
	}
	count, err := s.store.CountExpenses(ctx, chatID)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrCurrencyLocked
	}
	return s.store.SetCurrency(ctx, chatID, code)
}

// EnsureParticipant idempotently registers a real participant, updating the
// display name when it changed. The weight is never touched.
func (s *Service) EnsureParticipant(ctx context.Context, chatID, participantID int64, name string) error {
	if participantID <= 0 {
		return fmt.Errorf("%w: real participant ids must be positive", ErrInvalidInput)
	}
	if _, err := s.EnsureChat(ctx, chatID); err != nil {
		return err
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	return s.store.EnsureParticipant(ctx, chatID, participantID, name)
}

// AddVirtualParticipant registers a participant without a platform identity
// under the next id from the chat's decreasing virtual sequence.
func (s *Service) AddVirtualParticipant(ctx context.Context, chatID int64, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	if _, err := s.EnsureChat(ctx, chatID); err != nil {
		return 0, err
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.store.Participants(ctx, chatID)
	if err != nil {
		return 0, err
	}
	for _, p := range existing {
		if strings.EqualFold(p.Name, name) {
			return 0, ErrDuplicateName
		}
	}
	return s.store.AddVirtualParticipant(ctx, chatID, name)
}

// SetWeight updates a participant's share multiplier for future expenses.
// Already-recorded expenses keep their snapshots.
func (s *Service) SetWeight(ctx context.Context, chatID, participantID int64, weight float64) error {
	if weight <= 0 {
		return fmt.Errorf("%w: weight must be positive", ErrInvalidInput)
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	return s.store.SetWeight(ctx, chatID, participantID, weight)
}

// Participants lists the chat's participants ordered by id.
func (s *Service) Participants(ctx context.Context, chatID int64) ([]Participant, error) {
	return s.store.Participants(ctx, chatID)
}

// ParticipantNames returns the id -> display name mapping.
func (s *Service) ParticipantNames(ctx context.Context, chatID int64) (map[int64]string, error) {
	participants, err := s.store.Participants(ctx, chatID)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.Name
	}
	return names, nil
}

// Conversion is the outcome of normalizing a captured amount into the
// chat's base currency.
type Conversion struct {
	Amount           float64
	OriginalAmount   float64
	OriginalCurrency string
	Rate             *float64
	Fallback         bool
}

// Convert normalizes amount from the given currency into the base
// currency. When no rate can be resolved the original amount is kept and
// the conversion is flagged as fallback so callers can surface the
// degraded state. Resolution may block on network I/O; callers must invoke
// this before RecordExpense, never while holding a chat lock.
func (s *Service) Convert(ctx context.Context, amount float64, from, base string) Conversion {
	conv := Conversion{
		Amount:           round2(amount),
		OriginalAmount:   round2(amount),
		OriginalCurrency: from,
	}
	if from == base {
		return conv
	}
	rate, fallback, ok := s.rates.Resolve(ctx, from, base)
	if !ok {
		conv.Fallback = true
		return conv
	}
	conv.Amount = round2(conv.OriginalAmount * rate)
	conv.Rate = &rate
	conv.Fallback = fallback
	return conv
}

// ExpenseInput carries everything needed to record one expense. Amount is
// already in the chat base currency; the Original* and FX* fields preserve
// the pre-conversion state when one occurred.
type ExpenseInput struct {
	PayerID          int64
	Amount           float64
	Description      string
	Category         string
	Timestamp        time.Time
	Participants     []int64
	OriginalAmount   float64
	OriginalCurrency string
	FXRate           *float64
	FXFallback       bool
}

// RecordExpense validates and persists one immutable expense, snapshotting
// each participant's current weight. Returns the per-chat sequential id.
func (s *Service) RecordExpense(ctx context.Context, chatID int64, in ExpenseInput) (int64, error) {
	if in.Amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if len(in.Participants) == 0 {
		return 0, fmt.Errorf("%w: participant set must not be empty", ErrInvalidInput)
	}
	if _, err := s.EnsureChat(ctx, chatID); err != nil {
		return 0, err
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	e := &Expense{
		ChatID:           chatID,
		PayerID:          in.PayerID,
		Amount:           round2(in.Amount),
		Description:      strings.TrimSpace(in.Description),
		Category:         NormalizeCategory(in.Category),
		Timestamp:        ts,
		OriginalAmount:   in.OriginalAmount,
		OriginalCurrency: in.OriginalCurrency,
		FXRate:           in.FXRate,
		FXFallback:       in.FXFallback,
	}
	if e.Description == "" {
		e.Description = "(no description)"
	}
	if e.OriginalAmount == 0 {
		e.OriginalAmount = e.Amount
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	id, err := s.store.InsertExpense(ctx, e, dedupe(in.Participants))
	if err != nil {
		return 0, fmt.Errorf("failed to store expense: %w", err)
	}
	return id, nil
}

// NextExpenseID previews the id the next recorded expense will get.
func (s *Service) NextExpenseID(ctx context.Context, chatID int64) (int64, error) {
	return s.store.NextExpenseID(ctx, chatID)
}

// Balances derives the net position of every participant: the payer of an
// expense is credited the full amount and every participant is debited
// amount * weight/totalWeight using the snapshotted weights. Expenses with
// a non-positive total snapshot weight are skipped. Rounding to cents
// happens once at the end so per-expense rounding error does not compound.
func (s *Service) Balances(ctx context.Context, chatID int64) (map[int64]float64, error) {
	expenses, err := s.store.Expenses(ctx, chatID)
	if err != nil {
		return nil, err
	}
	balances := make(map[int64]float64)
	for _, e := range expenses {
		if len(e.Shares) == 0 {
			continue
		}
		var totalWeight float64
		for _, sh := range e.Shares {
			totalWeight += sh.Weight
		}
		if totalWeight <= 0 {
			continue
		}
		balances[e.PayerID] += e.Amount
		for _, sh := range e.Shares {
			balances[sh.ParticipantID] -= e.Amount * (sh.Weight / totalWeight)
		}
	}
	for id, v := range balances {
		balances[id] = round2(v)
	}
	return balances, nil
}

// Settlements reduces the current balances to suggested payments.
func (s *Service) Settlements(ctx context.Context, chatID int64) ([]Transfer, error) {
	balances, err := s.Balances(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return Reduce(balances), nil
}

// CategoryTotals sums spend per category, largest first.
func (s *Service) CategoryTotals(ctx context.Context, chatID int64) ([]CategoryTotal, error) {
	return s.store.CategoryTotals(ctx, chatID)
}

// ExpensesPage returns one page of the expense history, newest first.
func (s *Service) ExpensesPage(ctx context.Context, chatID int64, page, pageSize int) ([]Expense, error) {
	if page < 0 || pageSize <= 0 {
		return nil, fmt.Errorf("%w: bad page arguments", ErrInvalidInput)
	}
	return s.store.ListExpenses(ctx, chatID, pageSize, page*pageSize)
}

// CountExpenses returns the total number of recorded expenses.
func (s *Service) CountExpenses(ctx context.Context, chatID int64) (int, error) {
	return s.store.CountExpenses(ctx, chatID)
}

// Reset wipes all expenses and participants and restarts the virtual
// sequence. The chat row and its base currency survive.
func (s *Service) Reset(ctx context.Context, chatID int64) error {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	return s.store.ResetChat(ctx, chatID)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
