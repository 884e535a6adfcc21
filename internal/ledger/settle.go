package ledger

import (
	"math"
	"sort"
)

type party struct {
	id  int64
	net float64
}

// Reduce turns a balance mapping into an ordered list of settling payments
// using greedy matching: the largest creditor is repeatedly paired with the
// most indebted debtor. The result zeroes every balance within Epsilon but
// is not guaranteed to be transaction-count minimal; the exact minimum is
// an NP-hard partitioning problem and the greedy answer is close enough
// for a chat-sized group.
func Reduce(balances map[int64]float64) []Transfer {
	var creditors, debtors []party
	for id, amt := range balances {
		switch {
		case amt > Epsilon:
			creditors = append(creditors, party{id: id, net: amt})
		case amt < -Epsilon:
			debtors = append(debtors, party{id: id, net: amt})
		}
	}
	sort.Slice(creditors, func(i, j int) bool {
		if creditors[i].net != creditors[j].net {
			return creditors[i].net > creditors[j].net
		}
		return creditors[i].id < creditors[j].id
	})
	sort.Slice(debtors, func(i, j int) bool {
		if debtors[i].net != debtors[j].net {
			return debtors[i].net < debtors[j].net
		}
		return debtors[i].id < debtors[j].id
	})

	var transfers []Transfer
	ci, di := 0, 0
	for ci < len(creditors) && di < len(debtors) {
		c := &creditors[ci]
		d := &debtors[di]
		pay := math.Min(c.net, -d.net)
		transfers = append(transfers, Transfer{
			From:   d.id,
			To:     c.id,
			Amount: round2(pay),
		})
		c.net -= pay
		d.net += pay
		if c.net <= Epsilon {
			ci++
		}
		if d.net >= -Epsilon {
			di++
		}
	}
	return transfers
}
