package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/splitbot/internal/fx"
	"github.com/susu3304/splitbot/internal/ledger"
)

// Deps carries what the split subcommand handlers need.
type Deps struct {
	Ledger *ledger.Service
}

func HandleSplit(s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		respondText(s, i, "No subcommand given")
		return
	}
	if i.Member == nil || i.Member.User == nil {
		respondText(s, i, "This command only works inside a server channel")
		return
	}

	sub := data.Options[0]
	chatID := ParseChatID(i.ChannelID)
	userID := ParseChatID(i.Member.User.ID)
	ctx := context.Background()

	switch sub.Name {
	case "add":
		handleAdd(ctx, s, i, deps, chatID, userID, data, sub)
	case "balance":
		handleBalance(ctx, s, i, deps, chatID)
	case "settle":
		handleSettle(ctx, s, i, deps, chatID)
	case "users":
		handleUsers(ctx, s, i, deps, chatID)
	case "adduser":
		handleAddUser(ctx, s, i, deps, chatID, sub)
	case "weight":
		handleWeight(ctx, s, i, deps, chatID, data, sub)
	case "setcurrency":
		handleSetCurrency(ctx, s, i, deps, chatID, sub)
	case "currency":
		handleCurrency(ctx, s, i, deps, chatID)
	case "stats":
		handleStats(ctx, s, i, deps, chatID)
	case "list":
		handleList(ctx, s, i, deps, chatID, sub)
	case "export":
		handleExport(ctx, s, i, deps, chatID)
	case "reset":
		handleResetPrompt(s, i)
	default:
		respondText(s, i, "Unknown subcommand")
	}
}

func handleAdd(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, chatID, payerID int64, data discordgo.ApplicationCommandInteractionData, sub *discordgo.ApplicationCommandInteractionDataOption) {
	amountOpt := getNumberOption(sub.Options, "amount")
	if amountOpt == nil || *amountOpt <= 0 {
		respondText(s, i, "Amount must be a positive number")
		return
	}

	description := ""
	if d := getStringOption(sub.Options, "description"); d != nil {
		description = *d
	}
	category := ""
	if c := getStringOption(sub.Options, "category"); c != nil {
		category = *c
	}

	if err := deps.Ledger.EnsureParticipant(ctx, chatID, payerID, i.Member.User.Username); err != nil {
		respondText(s, i, "Failed to register you as a participant")
		return
	}
	base, err := deps.Ledger.BaseCurrency(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to look up the channel currency")
		return
	}

	// Explicit option wins; otherwise scan the description for a
	// currency mention.
	from := base
	if c := getStringOption(sub.Options, "currency"); c != nil {
		code := strings.ToUpper(strings.TrimSpace(*c))
		if !fx.IsCode(code) {
			respondText(s, i, "Currency must be a 3-letter code, e.g. USD")
			return
		}
		from = code
	} else if detected, ok := fx.DetectCurrency(description); ok {
		from = detected
	}

	conv := deps.Ledger.Convert(ctx, *amountOpt, from, base)

	// No explicit category: guess one from the description.
	if category == "" {
		category = ledger.NormalizeCategory(description)
	}

	participantIDs, err := resolveParticipants(ctx, deps, chatID, payerID, data, sub)
	if err != nil {
		respondText(s, i, err.Error())
		return
	}

	in := ledger.ExpenseInput{
		PayerID:      payerID,
		Amount:       conv.Amount,
		Description:  description,
		Category:     category,
		Participants: participantIDs,
		FXFallback:   conv.Fallback,
	}
	if conv.OriginalCurrency != base {
		in.OriginalAmount = conv.OriginalAmount
		in.OriginalCurrency = conv.OriginalCurrency
		in.FXRate = conv.Rate
	}

	id, err := deps.Ledger.RecordExpense(ctx, chatID, in)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidInput) {
			respondText(s, i, err.Error())
			return
		}
		respondText(s, i, "Failed to record the expense")
		return
	}

	msg := fmt.Sprintf("✅ Expense #%d: %.2f %s — %s %s",
		id, conv.Amount, base, displayDescription(description), ledger.CategoryEmoji[category])
	if from != base {
		if conv.Rate != nil {
			msg += fmt.Sprintf("\nConverted from %.2f %s at %.6f", conv.OriginalAmount, from, *conv.Rate)
		} else {
			msg += fmt.Sprintf("\n⚠️ No rate for %s→%s, recorded the amount as-is", from, base)
		}
	}
	msg += fmt.Sprintf("\nSplit between %d participant(s)", len(participantIDs))
	respondText(s, i, msg)
}

// resolveParticipants turns the participants option into ledger ids. With
// no option every registered participant shares the expense.
func resolveParticipants(ctx context.Context, deps Deps, chatID, payerID int64, data discordgo.ApplicationCommandInteractionData, sub *discordgo.ApplicationCommandInteractionDataOption) ([]int64, error) {
	existing, err := deps.Ledger.Participants(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants")
	}

	opt := getStringOption(sub.Options, "participants")
	if opt == nil || strings.TrimSpace(*opt) == "" {
		ids := make([]int64, 0, len(existing))
		for _, p := range existing {
			ids = append(ids, p.ID)
		}
		if len(ids) == 0 {
			ids = append(ids, payerID)
		}
		return ids, nil
	}

	mentionIDs, names := parseMentionTokens(*opt)
	var ids []int64
	for _, id := range mentionIDs {
		registered := false
		for _, p := range existing {
			if p.ID == id {
				registered = true
				break
			}
		}
		if !registered {
			name := fmt.Sprintf("%d", id)
			if data.Resolved != nil {
				if u, ok := data.Resolved.Users[fmt.Sprintf("%d", id)]; ok {
					name = u.Username
				}
			}
			if err := deps.Ledger.EnsureParticipant(ctx, chatID, id, name); err != nil {
				return nil, fmt.Errorf("failed to register <@%d>", id)
			}
		}
		ids = append(ids, id)
	}
	for _, name := range names {
		found := false
		for _, p := range existing {
			if strings.EqualFold(p.Name, name) {
				ids = append(ids, p.ID)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("Unknown participant '%s' — add them first with /split adduser", name)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("No participants recognized")
	}
	return ids, nil
}

func handleBalance(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, chatID int64) {
	balances, err := deps.Ledger.Balances(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to compute balances")
		return
	}
	if len(balances) == 0 {
		respondText(s, i, "No expenses recorded yet")
		return
	}
	base, err := deps.Ledger.BaseCurrency(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to look up the channel currency")
		return
	}
	names, err := deps.Ledger.ParticipantNames(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to list participants")
		return
	}

	type entry struct {
		id  int64
		net float64
	}
	entries := make([]entry, 0, len(balances))
	for id, net := range balances {
		entries = append(entries, entry{id, net})
	}
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].net != entries[b].net {
			return entries[a].net > entries[b].net
		}
		return entries[a].id < entries[b].id
	})

	var b strings.Builder
	fmt.Fprintf(&b, "💰 Balances (%s):\n", base)
	for _, e := range entries {
		fmt.Fprintf(&b, "• %s: %+.2f\n", display(names, e.id), e.net)
	}
	respondText(s, i, b.String())
}

func handleSettle(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, chatID int64) {
	transfers, err := deps.Ledger.Settlements(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to compute settlements")
		return
	}
	if len(transfers) == 0 {
		respondText(s, i, "All settled, nothing to pay 🎉")
		return
	}
	base, err := deps.Ledger.BaseCurrency(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to look up the channel currency")
		return
	}
	names, err := deps.Ledger.ParticipantNames(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to list participants")
		return
	}

	var b strings.Builder
	b.WriteString("🤝 Suggested payments:\n")
	for _, t := range transfers {
		fmt.Fprintf(&b, "• %s pays %s %.2f %s\n", display(names, t.From), display(names, t.To), t.Amount, base)
	}
	respondText(s, i, b.String())
}

func handleUsers(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, chatID int64) {
	participants, err := deps.Ledger.Participants(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to list participants")
		return
	}
	if len(participants) == 0 {
		respondText(s, i, "Nobody registered yet. Record an expense or use /split adduser")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👥 Participants (%d):\n", len(participants))
	for _, p := range participants {
		label := fmt.Sprintf("<@%d>", p.ID)
		if p.Virtual {
			label = p.Name + " (virtual)"
		}
		fmt.Fprintf(&b, "• %s — weight %.2f\n", label, p.Weight)
	}
	respondText(s, i, b.String())
}

func handleAddUser(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, chatID int64, sub *discordgo.ApplicationCommandInteractionDataOption) {
	nameOpt := getStringOption(sub.Options, "name")
	if nameOpt == nil {
		respondText(s, i, "A name is required")
		return
	}
	id, err := deps.Ledger.AddVirtualParticipant(ctx, chatID, *nameOpt)
	switch {
	case errors.Is(err, ledger.ErrDuplicateName):
		respondText(s, i, fmt.Sprintf("'%s' already exists in this channel", strings.TrimSpace(*nameOpt)))
	case errors.Is(err, ledger.ErrInvalidInput):
		respondText(s, i, "The name must not be empty")
	case err != nil:
		respondText(s, i, "Failed to add the participant")
	default:
		respondText(s, i, fmt.Sprintf("✅ Added %s (id %d)", strings.TrimSpace(*nameOpt), id))
	}
}

func handleWeight(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, chatID int64, data discordgo.ApplicationCommandInteractionData, sub *discordgo.ApplicationCommandInteractionDataOption) {
	valueOpt := getNumberOption(sub.Options, "value")
	if valueOpt == nil {
		respondText(s, i, "A weight value is required")
		return
	}
	if *valueOpt <= 0 {
		respondText(s, i, "The weight must be positive")
		return
	}

	var targetID int64
	var label string
	if uid := getUserOption(sub.Options, "user"); uid != "" {
		targetID = ParseChatID(uid)
		name := uid
		if data.Resolved != nil {
			if u, ok := data.Resolved.Users[uid]; ok {
				name = u.Username
			}
		}
		if err := deps.Ledger.EnsureParticipant(ctx, chatID, targetID, name); err != nil {
			respondText(s, i, "Failed to register the participant")
			return
		}
		label = fmt.Sprintf("<@%d>", targetID)
	} else if nameOpt := getStringOption(sub.Options, "name"); nameOpt != nil {
		participants, err := deps.Ledger.Participants(ctx, chatID)
		if err != nil {
			respondText(s, i, "Failed to list participants")
			return
		}
		for _, p := range participants {
			if strings.EqualFold(p.Name, strings.TrimSpace(*nameOpt)) {
				targetID = p.ID
				label = p.Name
				break
			}
		}
		if targetID == 0 {
			respondText(s, i, fmt.Sprintf("Unknown participant '%s'", *nameOpt))
			return
		}
	} else {
		respondText(s, i, "Specify either a user or a name")
		return
	}

	if err := deps.Ledger.SetWeight(ctx, chatID, targetID, *valueOpt); err != nil {
		respondText(s, i, "Failed to set the weight")
		return
	}
	respondText(s, i, fmt.Sprintf("⚖️ Weight for %s set to %.2f (applies to future expenses)", label, *valueOpt))
}

// currencyChoices are the quick-pick buttons offered when setcurrency is
// called without a code.
var currencyChoices = []string{"ILS", "USD", "EUR", "GBP", "JPY", "CHF", "CAD"}

const currencyComponentPrefix = "split_currency:"

// CurrencyFromComponentID extracts the currency code from a quick-pick
// button custom id.
func CurrencyFromComponentID(customID string) (string, bool) {
	if !strings.HasPrefix(customID, currencyComponentPrefix) {
		return "", false
	}
	return strings.TrimPrefix(customID, currencyComponentPrefix), true
}

// currencyButtonRows lays the quick-pick buttons out in rows of up to
// five, the Discord per-row component limit.
func currencyButtonRows() []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for start := 0; start < len(currencyChoices); start += 5 {
		end := start + 5
		if end > len(currencyChoices) {
			end = len(currencyChoices)
		}
		var buttons []discordgo.MessageComponent
		for _, code := range currencyChoices[start:end] {
			buttons = append(buttons, discordgo.Button{
				Label:    code,
				Style:    discordgo.SecondaryButton,
				CustomID: currencyComponentPrefix + code,
			})
		}
		rows = append(rows, discordgo.ActionsRow{Components: buttons})
	}
	return rows
}

func handleSetCurrency(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, chatID int64, sub *discordgo.ApplicationCommandInteractionDataOption) {
	codeOpt := getStringOption(sub.Options, "code")
	if codeOpt == nil {
		s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content:    "💱 Pick the channel base currency:",
				Components: currencyButtonRows(),
			},
		})
		return
	}
	respondText(s, i, setCurrencyMessage(ctx, deps, chatID, *codeOpt))
}

// HandleCurrencyComponent applies a quick-pick currency button press.
func HandleCurrencyComponent(s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, code string) {
	chatID := ParseChatID(i.ChannelID)
	respondUpdate(s, i, setCurrencyMessage(context.Background(), deps, chatID, code))
}

func setCurrencyMessage(ctx context.Context, deps Deps, chatID int64, code string) string {
	err := deps.Ledger.SetBaseCurrency(ctx, chatID, code)
	switch {
	case errors.Is(err, ledger.ErrCurrencyLocked):
		return "The currency is locked once expenses exist. Use /split reset first"
	case errors.Is(err, ledger.ErrInvalidInput):
		return "Currency must be a 3-letter code, e.g. ILS"
	case err != nil:
		return "Failed to set the currency"
	default:
		return fmt.Sprintf("💱 Base currency set to %s", strings.ToUpper(strings.TrimSpace(code)))
	}
}

func handleCurrency(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, chatID int64) {
	base, err := deps.Ledger.BaseCurrency(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to look up the channel currency")
		return
	}
	respondText(s, i, fmt.Sprintf("💱 Base currency: %s", base))
}

func handleStats(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, chatID int64) {
	totals, err := deps.Ledger.CategoryTotals(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to compute stats")
		return
	}
	if len(totals) == 0 {
		respondText(s, i, "No expenses recorded yet")
		return
	}
	base, err := deps.Ledger.BaseCurrency(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to look up the channel currency")
		return
	}

	respondText(s, i, formatStats(totals, base))
}

// formatStats renders category totals with each category's share of the
// grand total.
func formatStats(totals []ledger.CategoryTotal, currency string) string {
	var sum float64
	for _, t := range totals {
		sum += t.Total
	}

	var b strings.Builder
	b.WriteString("📊 Spending by category:\n")
	for _, t := range totals {
		pct := 0.0
		if sum > 0 {
			pct = t.Total / sum * 100
		}
		fmt.Fprintf(&b, "%s %s: %.2f %s (%.1f%%)\n", ledger.CategoryEmoji[t.Category], t.Category, t.Total, currency, pct)
	}
	fmt.Fprintf(&b, "Total: %.2f %s", sum, currency)
	return b.String()
}

const listPageSize = 10

func handleList(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, chatID int64, sub *discordgo.ApplicationCommandInteractionDataOption) {
	page := int64(1)
	if p := getIntOption(sub.Options, "page"); p != nil && *p > 0 {
		page = *p
	}

	total, err := deps.Ledger.CountExpenses(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to count expenses")
		return
	}
	if total == 0 {
		respondText(s, i, "No expenses recorded yet")
		return
	}
	expenses, err := deps.Ledger.ExpensesPage(ctx, chatID, int(page)-1, listPageSize)
	if err != nil || len(expenses) == 0 {
		respondText(s, i, "That page is empty")
		return
	}
	base, err := deps.Ledger.BaseCurrency(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to look up the channel currency")
		return
	}
	names, err := deps.Ledger.ParticipantNames(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to list participants")
		return
	}

	pages := (total + listPageSize - 1) / listPageSize
	var b strings.Builder
	fmt.Fprintf(&b, "🧾 Expenses — page %d/%d (%d total):\n", page, pages, total)
	for _, e := range expenses {
		fmt.Fprintf(&b, "#%d %s — %.2f %s %s, paid by %s",
			e.ID, e.Timestamp.UTC().Format("2006-01-02"), e.Amount, base,
			displayDescription(e.Description), display(names, e.PayerID))
		if e.OriginalCurrency != "" && e.OriginalCurrency != base {
			fmt.Fprintf(&b, " (%.2f %s)", e.OriginalAmount, e.OriginalCurrency)
		}
		b.WriteString("\n")
	}
	respondText(s, i, b.String())
}

func handleExport(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, chatID int64) {
	data, err := deps.Ledger.ExportCSV(ctx, chatID)
	if err != nil {
		respondText(s, i, "Failed to export the history")
		return
	}
	respondFile(s, i, "📄 Expense history", "expenses.csv", data)
}

// handleResetPrompt asks for confirmation; the button press is handled by
// the component interaction dispatcher.
func handleResetPrompt(s *discordgo.Session, i *discordgo.InteractionCreate) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "⚠️ This deletes every expense and participant in this channel. Are you sure?",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{
							Label:    "Delete everything",
							Style:    discordgo.DangerButton,
							CustomID: ResetConfirmID,
						},
						discordgo.Button{
							Label:    "Cancel",
							Style:    discordgo.SecondaryButton,
							CustomID: ResetCancelID,
						},
					},
				},
			},
		},
	})
}

// Component custom ids shared with the interaction dispatcher.
const (
	ResetConfirmID = "split_reset_confirm"
	ResetCancelID  = "split_reset_cancel"
)

// HandleResetComponent finishes or cancels a pending reset confirmation.
func HandleResetComponent(s *discordgo.Session, i *discordgo.InteractionCreate, deps Deps, confirm bool) {
	if !confirm {
		respondUpdate(s, i, "Reset cancelled")
		return
	}
	chatID := ParseChatID(i.ChannelID)
	if err := deps.Ledger.Reset(context.Background(), chatID); err != nil {
		respondUpdate(s, i, "Failed to reset the channel")
		return
	}
	respondUpdate(s, i, "🗑️ All expenses and participants deleted. The base currency is kept")
}

// respondUpdate replaces the confirmation prompt, dropping its buttons.
func respondUpdate(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	})
}

func display(names map[int64]string, id int64) string {
	if id > 0 {
		return fmt.Sprintf("<@%d>", id)
	}
	if name, ok := names[id]; ok {
		return name
	}
	return fmt.Sprintf("participant %d", id)
}

func displayDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "(no description)"
	}
	return desc
}
