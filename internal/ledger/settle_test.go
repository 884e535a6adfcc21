package ledger

import (
	"math"
	"testing"
)

func TestReduce(t *testing.T) {
	tests := []struct {
		name     string
		balances map[int64]float64
		want     []Transfer
	}{
		{
			name:     "single creditor two debtors",
			balances: map[int64]float64{1: 30, 2: -10, 3: -20},
			want: []Transfer{
				{From: 3, To: 1, Amount: 20},
				{From: 2, To: 1, Amount: 10},
			},
		},
		{
			name:     "one to one",
			balances: map[int64]float64{1: 12.5, 2: -12.5},
			want: []Transfer{
				{From: 2, To: 1, Amount: 12.5},
			},
		},
		{
			name:     "creditor split across debtor boundary",
			balances: map[int64]float64{1: 50, 2: 10, 3: -35, 4: -25},
			want: []Transfer{
				{From: 3, To: 1, Amount: 35},
				{From: 4, To: 1, Amount: 15},
				{From: 4, To: 2, Amount: 10},
			},
		},
		{
			name:     "already settled",
			balances: map[int64]float64{1: 0.005, 2: -0.005},
			want:     nil,
		},
		{
			name:     "empty",
			balances: map[int64]float64{},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reduce(tt.balances)
			if len(got) != len(tt.want) {
				t.Fatalf("Reduce() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("transfer[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestReduceZeroesBalances(t *testing.T) {
	cases := []map[int64]float64{
		{1: 30, 2: -10, 3: -20},
		{1: 100.33, 2: -50.17, 3: -25.08, 4: -25.08},
		{1: 7.77, 2: 7.77, 3: -15.54},
		{10: 0.02, 20: -0.02},
	}
	for _, balances := range cases {
		remaining := make(map[int64]float64, len(balances))
		for id, v := range balances {
			remaining[id] = v
		}
		for _, tr := range Reduce(balances) {
			remaining[tr.From] += tr.Amount
			remaining[tr.To] -= tr.Amount
		}
		for id, v := range remaining {
			if math.Abs(v) > Epsilon+1e-9 {
				t.Errorf("balances %v: participant %d left with %v after transfers", balances, id, v)
			}
		}
	}
}

func TestReduceDeterministic(t *testing.T) {
	balances := map[int64]float64{1: 10, 2: 10, 3: -10, 4: -10}
	first := Reduce(balances)
	for i := 0; i < 10; i++ {
		again := Reduce(balances)
		if len(again) != len(first) {
			t.Fatalf("run %d produced %d transfers, want %d", i, len(again), len(first))
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("run %d transfer[%d] = %v, want %v", i, j, again[j], first[j])
			}
		}
	}
}
