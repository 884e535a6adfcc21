package ledger

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
)

// memStore is an in-memory Store for engine tests.
type memStore struct {
	chats        map[int64]*Chat
	participants map[int64][]Participant
	expenses     map[int64][]Expense
}

func newMemStore() *memStore {
	return &memStore{
		chats:        make(map[int64]*Chat),
		participants: make(map[int64][]Participant),
		expenses:     make(map[int64][]Expense),
	}
}

func (m *memStore) EnsureChat(_ context.Context, chatID int64, currency string) error {
	if _, ok := m.chats[chatID]; !ok {
		m.chats[chatID] = &Chat{ID: chatID, Currency: currency, VirtualSeq: -1}
	}
	return nil
}

func (m *memStore) Chat(_ context.Context, chatID int64) (*Chat, error) {
	c, ok := m.chats[chatID]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (m *memStore) SetCurrency(_ context.Context, chatID int64, currency string) error {
	c, ok := m.chats[chatID]
	if !ok {
		return errors.New("chat not found")
	}
	c.Currency = currency
	return nil
}

func (m *memStore) EnsureParticipant(_ context.Context, chatID, participantID int64, name string) error {
	for i, p := range m.participants[chatID] {
		if p.ID == participantID {
			if p.Name != name {
				m.participants[chatID][i].Name = name
			}
			return nil
		}
	}
	m.participants[chatID] = append(m.participants[chatID], Participant{ID: participantID, Name: name, Weight: 1.0})
	return nil
}

func (m *memStore) AddVirtualParticipant(_ context.Context, chatID int64, name string) (int64, error) {
	c, ok := m.chats[chatID]
	if !ok {
		return 0, errors.New("chat not found")
	}
	id := c.VirtualSeq
	c.VirtualSeq--
	m.participants[chatID] = append(m.participants[chatID], Participant{ID: id, Name: name, Weight: 1.0, Virtual: true})
	return id, nil
}

func (m *memStore) SetWeight(_ context.Context, chatID, participantID int64, weight float64) error {
	for i, p := range m.participants[chatID] {
		if p.ID == participantID {
			m.participants[chatID][i].Weight = weight
			return nil
		}
	}
	return errors.New("participant not found")
}

func (m *memStore) Participants(_ context.Context, chatID int64) ([]Participant, error) {
	out := append([]Participant(nil), m.participants[chatID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) InsertExpense(_ context.Context, e *Expense, participantIDs []int64) (int64, error) {
	weights := make(map[int64]float64, len(m.participants[e.ChatID]))
	for _, p := range m.participants[e.ChatID] {
		weights[p.ID] = p.Weight
	}
	stored := *e
	stored.ID = int64(len(m.expenses[e.ChatID]) + 1)
	for _, id := range participantIDs {
		w, ok := weights[id]
		if !ok {
			w = 1.0
		}
		stored.Shares = append(stored.Shares, Share{ParticipantID: id, Weight: w})
	}
	m.expenses[e.ChatID] = append(m.expenses[e.ChatID], stored)
	return stored.ID, nil
}

func (m *memStore) NextExpenseID(_ context.Context, chatID int64) (int64, error) {
	return int64(len(m.expenses[chatID]) + 1), nil
}

func (m *memStore) Expenses(_ context.Context, chatID int64) ([]Expense, error) {
	return append([]Expense(nil), m.expenses[chatID]...), nil
}

func (m *memStore) ListExpenses(_ context.Context, chatID int64, limit, offset int) ([]Expense, error) {
	all := m.expenses[chatID]
	var out []Expense
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memStore) CountExpenses(_ context.Context, chatID int64) (int, error) {
	return len(m.expenses[chatID]), nil
}

func (m *memStore) CategoryTotals(_ context.Context, chatID int64) ([]CategoryTotal, error) {
	totals := make(map[string]float64)
	for _, e := range m.expenses[chatID] {
		totals[e.Category] += e.Amount
	}
	out := make([]CategoryTotal, 0, len(totals))
	for c, v := range totals {
		out = append(out, CategoryTotal{Category: c, Total: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out, nil
}

func (m *memStore) ResetChat(_ context.Context, chatID int64) error {
	delete(m.participants, chatID)
	delete(m.expenses, chatID)
	if c, ok := m.chats[chatID]; ok {
		c.VirtualSeq = -1
	}
	return nil
}

// fixedResolver returns one canned rate for every pair.
type fixedResolver struct {
	rate     float64
	fallback bool
	ok       bool
}

func (f fixedResolver) Resolve(_ context.Context, from, to string) (float64, bool, bool) {
	if from == to {
		return 1.0, false, true
	}
	return f.rate, f.fallback, f.ok
}

func newTestService() (*Service, *memStore) {
	store := newMemStore()
	return NewService(store, fixedResolver{rate: 3.7, ok: true}, "USD"), store
}

const chatID = int64(1001)

func seedParticipants(t *testing.T, svc *Service, ids ...int64) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		if err := svc.EnsureParticipant(ctx, chatID, id, "user"); err != nil {
			t.Fatalf("EnsureParticipant(%d): %v", id, err)
		}
	}
}

func record(t *testing.T, svc *Service, payer int64, amount float64, participants ...int64) int64 {
	t.Helper()
	id, err := svc.RecordExpense(context.Background(), chatID, ExpenseInput{
		PayerID:      payer,
		Amount:       amount,
		Description:  "test",
		Participants: participants,
	})
	if err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}
	return id
}

func TestRecordExpenseConcurrentSameChat(t *testing.T) {
	svc, _ := newTestService()
	seedParticipants(t, svc, 1, 2, 3)

	const workers = 8
	const perWorker = 5
	ids := make(chan int64, workers*perWorker)
	errs := make(chan error, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(payer int64) {
			defer wg.Done()
			for n := 0; n < perWorker; n++ {
				id, err := svc.RecordExpense(context.Background(), chatID, ExpenseInput{
					PayerID:      payer,
					Amount:       10,
					Description:  "load",
					Participants: []int64{1, 2, 3},
				})
				if err != nil {
					errs <- err
					return
				}
				ids <- id
			}
		}(int64(w%3 + 1))
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Fatalf("RecordExpense: %v", err)
	}

	seen := make(map[int64]bool, workers*perWorker)
	for id := range ids {
		if seen[id] {
			t.Errorf("expense id %d assigned twice", id)
		}
		seen[id] = true
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("recorded %d distinct ids, want %d", len(seen), workers*perWorker)
	}
	for id := int64(1); id <= int64(workers*perWorker); id++ {
		if !seen[id] {
			t.Errorf("expense id %d missing from the sequence", id)
		}
	}
}

func TestRecordExpenseValidation(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	seedParticipants(t, svc, 1, 2)

	if _, err := svc.RecordExpense(ctx, chatID, ExpenseInput{PayerID: 1, Amount: 0, Participants: []int64{1, 2}}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero amount: err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.RecordExpense(ctx, chatID, ExpenseInput{PayerID: 1, Amount: -5, Participants: []int64{1, 2}}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative amount: err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.RecordExpense(ctx, chatID, ExpenseInput{PayerID: 1, Amount: 10}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty participants: err = %v, want ErrInvalidInput", err)
	}
	if n, _ := store.CountExpenses(ctx, chatID); n != 0 {
		t.Errorf("%d expenses stored after rejected inputs, want 0", n)
	}
}

func TestRecordExpenseSequentialIDs(t *testing.T) {
	svc, _ := newTestService()
	seedParticipants(t, svc, 1, 2)

	first := record(t, svc, 1, 10, 1, 2)
	second := record(t, svc, 2, 20, 1, 2)
	if first != 1 || second != 2 {
		t.Errorf("expense ids = %d, %d, want 1, 2", first, second)
	}

	next, err := svc.NextExpenseID(context.Background(), chatID)
	if err != nil || next != 3 {
		t.Errorf("NextExpenseID = %d (%v), want 3", next, err)
	}
}

func TestBalancesSumToZero(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	seedParticipants(t, svc, 1, 2, 3)
	if err := svc.SetWeight(ctx, chatID, 2, 2.0); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}

	record(t, svc, 1, 100, 1, 2, 3)
	record(t, svc, 2, 33.33, 1, 2)
	record(t, svc, 3, 7.01, 1, 2, 3)

	balances, err := svc.Balances(ctx, chatID)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	var sum float64
	for _, v := range balances {
		sum += v
	}
	if math.Abs(sum) > Epsilon {
		t.Errorf("balances sum = %v, want within %v of zero (balances=%v)", sum, Epsilon, balances)
	}
}

func TestBalancesEqualWeights(t *testing.T) {
	svc, _ := newTestService()
	seedParticipants(t, svc, 1, 2, 3)
	record(t, svc, 1, 90, 1, 2, 3)

	balances, err := svc.Balances(context.Background(), chatID)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	want := map[int64]float64{1: 60, 2: -30, 3: -30}
	for id, w := range want {
		if balances[id] != w {
			t.Errorf("balance[%d] = %v, want %v", id, balances[id], w)
		}
	}
}

func TestWeightSnapshot(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	seedParticipants(t, svc, 1, 2)
	record(t, svc, 1, 30, 1, 2)

	before, err := svc.Balances(ctx, chatID)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}

	// Changing a weight after the fact must not move recorded balances.
	if err := svc.SetWeight(ctx, chatID, 2, 5.0); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}
	after, err := svc.Balances(ctx, chatID)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	for id := range before {
		if before[id] != after[id] {
			t.Errorf("balance[%d] changed %v -> %v after weight update", id, before[id], after[id])
		}
	}

	// A new expense uses the updated weight.
	record(t, svc, 1, 60, 1, 2)
	final, err := svc.Balances(ctx, chatID)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	// Second expense: total weight 6, participant 2 owes 60*5/6 = 50.
	want2 := after[2] - 50
	if math.Abs(final[2]-want2) > Epsilon {
		t.Errorf("balance[2] = %v, want %v", final[2], want2)
	}
}

func TestBalancesRoundingDrift(t *testing.T) {
	svc, _ := newTestService()
	seedParticipants(t, svc, 1, 2, 3)
	for i := 0; i < 1000; i++ {
		record(t, svc, 1, 0.01, 1, 2, 3)
	}
	balances, err := svc.Balances(context.Background(), chatID)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	var sum float64
	for _, v := range balances {
		sum += v
	}
	if math.Abs(sum) > Epsilon {
		t.Errorf("drift after 1000 tiny expenses: sum = %v, want within %v", sum, Epsilon)
	}
}

func TestEnsureParticipantIdempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if err := svc.EnsureParticipant(ctx, chatID, 7, "Dana"); err != nil {
		t.Fatalf("EnsureParticipant: %v", err)
	}
	if err := svc.SetWeight(ctx, chatID, 7, 2.5); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}
	if err := svc.EnsureParticipant(ctx, chatID, 7, "Dana"); err != nil {
		t.Fatalf("EnsureParticipant (repeat): %v", err)
	}

	participants, err := svc.Participants(ctx, chatID)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(participants) != 1 {
		t.Fatalf("%d participants, want 1", len(participants))
	}
	if participants[0].Weight != 2.5 {
		t.Errorf("weight = %v, want 2.5 (ensure must not reset weight)", participants[0].Weight)
	}

	// Name updates propagate.
	if err := svc.EnsureParticipant(ctx, chatID, 7, "Dana K"); err != nil {
		t.Fatalf("EnsureParticipant (rename): %v", err)
	}
	participants, _ = svc.Participants(ctx, chatID)
	if participants[0].Name != "Dana K" {
		t.Errorf("name = %q, want %q", participants[0].Name, "Dana K")
	}
}

func TestEnsureParticipantRejectsNonPositiveID(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.EnsureParticipant(context.Background(), chatID, -3, "ghost"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestAddVirtualParticipant(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	id1, err := svc.AddVirtualParticipant(ctx, chatID, "Alice")
	if err != nil {
		t.Fatalf("AddVirtualParticipant: %v", err)
	}
	id2, err := svc.AddVirtualParticipant(ctx, chatID, "Bob")
	if err != nil {
		t.Fatalf("AddVirtualParticipant: %v", err)
	}
	if id1 != -1 || id2 != -2 {
		t.Errorf("virtual ids = %d, %d, want -1, -2", id1, id2)
	}

	if _, err := svc.AddVirtualParticipant(ctx, chatID, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("whitespace name: err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.AddVirtualParticipant(ctx, chatID, "alice"); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("case-insensitive duplicate: err = %v, want ErrDuplicateName", err)
	}
}

func TestVirtualSeqNotReusedAfterReset(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.AddVirtualParticipant(ctx, chatID, "Alice"); err != nil {
		t.Fatalf("AddVirtualParticipant: %v", err)
	}
	if err := svc.Reset(ctx, chatID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	id, err := svc.AddVirtualParticipant(ctx, chatID, "Alice")
	if err != nil {
		t.Fatalf("AddVirtualParticipant after reset: %v", err)
	}
	if id != -1 {
		t.Errorf("virtual id after reset = %d, want -1", id)
	}
}

func TestSetBaseCurrency(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if err := svc.SetBaseCurrency(ctx, chatID, "ils"); err != nil {
		t.Fatalf("SetBaseCurrency: %v", err)
	}
	cur, err := svc.BaseCurrency(ctx, chatID)
	if err != nil || cur != "ILS" {
		t.Errorf("BaseCurrency = %q (%v), want ILS", cur, err)
	}

	if err := svc.SetBaseCurrency(ctx, chatID, "EURX"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad code: err = %v, want ErrInvalidInput", err)
	}

	seedParticipants(t, svc, 1, 2)
	record(t, svc, 1, 10, 1, 2)
	if err := svc.SetBaseCurrency(ctx, chatID, "EUR"); !errors.Is(err, ErrCurrencyLocked) {
		t.Errorf("after expense: err = %v, want ErrCurrencyLocked", err)
	}
	// Setting the same code again stays a no-op even when locked.
	if err := svc.SetBaseCurrency(ctx, chatID, "ILS"); err != nil {
		t.Errorf("same code: err = %v, want nil", err)
	}
}

func TestConvert(t *testing.T) {
	store := newMemStore()

	t.Run("same currency", func(t *testing.T) {
		svc := NewService(store, fixedResolver{}, "USD")
		conv := svc.Convert(context.Background(), 12.3456, "USD", "USD")
		if conv.Amount != 12.35 || conv.Rate != nil || conv.Fallback {
			t.Errorf("Convert = %+v, want rounded amount, no rate, no fallback", conv)
		}
	})

	t.Run("converted", func(t *testing.T) {
		svc := NewService(store, fixedResolver{rate: 3.7, ok: true}, "USD")
		conv := svc.Convert(context.Background(), 100, "USD", "ILS")
		if conv.Amount != 370 || conv.Rate == nil || *conv.Rate != 3.7 || conv.Fallback {
			t.Errorf("Convert = %+v, want 370 at rate 3.7", conv)
		}
		if conv.OriginalAmount != 100 || conv.OriginalCurrency != "USD" {
			t.Errorf("Convert originals = %+v, want 100 USD", conv)
		}
	})

	t.Run("fallback rate", func(t *testing.T) {
		svc := NewService(store, fixedResolver{rate: 4.0, fallback: true, ok: true}, "USD")
		conv := svc.Convert(context.Background(), 10, "GBP", "ILS")
		if conv.Amount != 40 || !conv.Fallback {
			t.Errorf("Convert = %+v, want fallback conversion", conv)
		}
	})

	t.Run("resolution failure keeps original", func(t *testing.T) {
		svc := NewService(store, fixedResolver{}, "USD")
		conv := svc.Convert(context.Background(), 55.5, "SEK", "USD")
		if conv.Amount != 55.5 || conv.Rate != nil || !conv.Fallback {
			t.Errorf("Convert = %+v, want unconverted amount flagged fallback", conv)
		}
	})
}

func TestCategoryTotalsOrder(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	seedParticipants(t, svc, 1, 2)

	if _, err := svc.RecordExpense(ctx, chatID, ExpenseInput{PayerID: 1, Amount: 10, Category: "food", Participants: []int64{1, 2}}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RecordExpense(ctx, chatID, ExpenseInput{PayerID: 1, Amount: 50, Category: "travel", Participants: []int64{1, 2}}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RecordExpense(ctx, chatID, ExpenseInput{PayerID: 1, Amount: 15, Category: "food", Participants: []int64{1, 2}}); err != nil {
		t.Fatal(err)
	}

	totals, err := svc.CategoryTotals(ctx, chatID)
	if err != nil {
		t.Fatalf("CategoryTotals: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("%d categories, want 2", len(totals))
	}
	if totals[0].Category != "travel" || totals[0].Total != 50 {
		t.Errorf("totals[0] = %+v, want travel 50", totals[0])
	}
	if totals[1].Category != "food" || totals[1].Total != 25 {
		t.Errorf("totals[1] = %+v, want food 25", totals[1])
	}
}

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"food", "food"},
		{"Food", "food"},
		{"dinner", "food"},
		{"taxi", "transport"},
		{"hotel booking", "travel"},
		{"", "other"},
		{"nonsense", "other"},
	}
	for _, tt := range tests {
		if got := NormalizeCategory(tt.raw); got != tt.want {
			t.Errorf("NormalizeCategory(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestExportCSV(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	seedParticipants(t, svc, 1, 2)

	rate := 3.7
	if _, err := svc.RecordExpense(ctx, chatID, ExpenseInput{
		PayerID:          1,
		Amount:           37,
		Description:      "falafel",
		Category:         "food",
		Participants:     []int64{1, 2},
		OriginalAmount:   10,
		OriginalCurrency: "USD",
		FXRate:           &rate,
	}); err != nil {
		t.Fatal(err)
	}

	out, err := svc.ExportCSV(ctx, chatID)
	if err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	csv := string(out)
	for _, want := range []string{"id,payer,amount", "37.00", "falafel", "food", "10.00", "USD", "3.700000", "1;2"} {
		if !strings.Contains(csv, want) {
			t.Errorf("export missing %q:\n%s", want, csv)
		}
	}
}
