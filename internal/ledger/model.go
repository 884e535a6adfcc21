package ledger

import "time"

// Epsilon below which a balance is considered settled.
const Epsilon = 0.01

// Chat is one ledger scope. The base currency is locked once the chat has
// any expense; VirtualSeq is the next virtual participant id (starts at -1,
// strictly decreasing, never reused).
type Chat struct {
	ID         int64
	Currency   string
	VirtualSeq int64
}

// Participant is identified by an int64 id: real participants carry their
// positive platform id, virtual participants get negative ids allocated
// from the chat's sequence counter.
type Participant struct {
	ID      int64
	Name    string
	Weight  float64
	Virtual bool
}

// Share is a participant's weight snapshot taken when an expense was
// recorded. Later weight changes never alter past balances.
type Share struct {
	ParticipantID int64
	Weight        float64
}

// Expense is immutable once recorded. Amount is in the chat's base
// currency; when a conversion occurred the original amount, currency and
// rate are preserved for display and audit. FXFallback marks rates that
// came from bridging or the static table (or a failed conversion that left
// the amount unconverted).
type Expense struct {
	ID               int64
	ChatID           int64
	PayerID          int64
	Amount           float64
	Description      string
	Category         string
	Timestamp        time.Time
	OriginalAmount   float64
	OriginalCurrency string
	FXRate           *float64
	FXFallback       bool
	Shares           []Share
}

// Transfer is one suggested settling payment.
type Transfer struct {
	From   int64
	To     int64
	Amount float64
}

// CategoryTotal is the summed spend for one category.
type CategoryTotal struct {
	Category string
	Total    float64
}
