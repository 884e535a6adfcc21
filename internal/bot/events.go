package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/splitbot/internal/commands"
	"github.com/susu3304/splitbot/internal/extract"
	"github.com/susu3304/splitbot/internal/fx"
	"github.com/susu3304/splitbot/internal/ledger"
)

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("%s is connected!", event.User.Username)

	// Register commands for all guilds
	for _, guild := range event.Guilds {
		if err := b.registerGuildCommands(guild.ID); err != nil {
			log.Printf("Failed to register commands for guild %s: %v", guild.ID, err)
		}
	}
}

func (b *Bot) onGuildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	log.Printf("Guild available/joined: %s (id=%s) — ensuring commands", event.Name, event.ID)
	if err := b.registerGuildCommands(event.ID); err != nil {
		log.Printf("Failed to register commands for guild %s: %v", event.ID, err)
	}
}

func (b *Bot) registerGuildCommands(guildID string) error {
	cmds := commands.GetCommands()
	// Delete existing commands and register new ones
	_, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, guildID, cmds)
	if err != nil {
		return err
	}

	log.Printf("Registered application commands for guild %s", guildID)
	return nil
}

// onMessageCreate watches plain messages for expense-looking text
// ("120 pizza", "30 שח מונית") and offers to record it.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.Bot || m.GuildID == "" {
		return
	}
	content := strings.TrimSpace(m.Content)
	if content == "" || strings.HasPrefix(content, "/") || strings.HasPrefix(content, "!") {
		return
	}
	if !containsDigit(content) {
		return
	}

	ctx := context.Background()
	chatID := commands.ParseChatID(m.ChannelID)
	payerID := commands.ParseChatID(m.Author.ID)
	if chatID == 0 || payerID == 0 {
		return
	}

	base, err := b.ledger.BaseCurrency(ctx, chatID)
	if err != nil {
		log.Printf("Failed to look up currency for chat %d: %v", chatID, err)
		return
	}

	res, ok := b.extractor.Extract(ctx, content, base)
	if !ok {
		return
	}

	from := captureCurrency(content, res.Description, base)
	desc := extract.CleanDescription(res.Description)

	conv := b.ledger.Convert(ctx, res.Amount, from, base)

	input := ledger.ExpenseInput{
		PayerID:     payerID,
		Amount:      conv.Amount,
		Description: desc,
		Category:    res.Category,
		FXFallback:  conv.Fallback,
	}
	if conv.OriginalCurrency != base {
		input.OriginalAmount = conv.OriginalAmount
		input.OriginalCurrency = conv.OriginalCurrency
		input.FXRate = conv.Rate
	}

	prompt := fmt.Sprintf("Record %.2f %s — %s %s?",
		conv.Amount, base, desc, ledger.CategoryEmoji[res.Category])
	if from != base {
		if conv.Rate != nil {
			prompt += fmt.Sprintf("\n(%.2f %s at %.6f)", conv.OriginalAmount, from, *conv.Rate)
		} else {
			prompt += fmt.Sprintf("\n⚠️ No rate for %s→%s, would record the amount as-is", from, base)
		}
	}

	msg, err := s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Content:   prompt,
		Reference: m.Reference(),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Record it",
						Style:    discordgo.SuccessButton,
						CustomID: captureConfirmID,
					},
					discordgo.Button{
						Label:    "Dismiss",
						Style:    discordgo.SecondaryButton,
						CustomID: captureCancelID,
					},
				},
			},
		},
	})
	if err != nil {
		log.Printf("Failed to send capture prompt: %v", err)
		return
	}

	b.storePending(msg.ID, &pendingExpense{
		chatID:    chatID,
		payerID:   payerID,
		payerName: m.Author.Username,
		input:     input,
		createdAt: time.Now(),
	})
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleApplicationCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleMessageComponent(s, i)
	}
}

func (b *Bot) handleApplicationCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()

	switch data.Name {
	case "split":
		commands.HandleSplit(s, i, commands.Deps{Ledger: b.ledger})
	}
}

const (
	captureConfirmID = "split_capture_confirm"
	captureCancelID  = "split_capture_cancel"
)

func (b *Bot) handleMessageComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()
	switch data.CustomID {
	case commands.ResetConfirmID:
		commands.HandleResetComponent(s, i, commands.Deps{Ledger: b.ledger}, true)
	case commands.ResetCancelID:
		commands.HandleResetComponent(s, i, commands.Deps{Ledger: b.ledger}, false)
	case captureConfirmID, captureCancelID:
		b.handleCaptureComponent(s, i, data.CustomID == captureConfirmID)
	default:
		if code, ok := commands.CurrencyFromComponentID(data.CustomID); ok {
			commands.HandleCurrencyComponent(s, i, commands.Deps{Ledger: b.ledger}, code)
		}
	}
}

func (b *Bot) handleCaptureComponent(s *discordgo.Session, i *discordgo.InteractionCreate, confirm bool) {
	p := b.takePending(i.Message.ID)
	if p == nil {
		respondUpdate(s, i, "This suggestion expired")
		return
	}
	if !confirm {
		respondUpdate(s, i, "Dismissed")
		return
	}

	// Only the author of the captured message may confirm it.
	if i.Member == nil || i.Member.User == nil || commands.ParseChatID(i.Member.User.ID) != p.payerID {
		b.storePending(i.Message.ID, p)
		s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "Only the message author can confirm this expense",
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
		return
	}

	ctx := context.Background()
	if err := b.ledger.EnsureParticipant(ctx, p.chatID, p.payerID, p.payerName); err != nil {
		respondUpdate(s, i, "Failed to register the payer")
		return
	}

	// Participant set is resolved at confirm time, everyone registered
	// by then shares the expense.
	participants, err := b.ledger.Participants(ctx, p.chatID)
	if err != nil {
		respondUpdate(s, i, "Failed to list participants")
		return
	}
	input := p.input
	for _, pt := range participants {
		input.Participants = append(input.Participants, pt.ID)
	}

	id, err := b.ledger.RecordExpense(ctx, p.chatID, input)
	if err != nil {
		log.Printf("Failed to record captured expense in chat %d: %v", p.chatID, err)
		respondUpdate(s, i, "Failed to record the expense")
		return
	}

	base, err := b.ledger.BaseCurrency(ctx, p.chatID)
	if err != nil {
		base = ""
	}
	respondUpdate(s, i, fmt.Sprintf("✅ Expense #%d: %.2f %s — %s, split between %d participant(s)",
		id, input.Amount, base, input.Description, len(input.Participants)))
}

// respondUpdate replaces the prompt message and drops its buttons.
func respondUpdate(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	})
}

// captureCurrency picks the expense currency for a captured message: the
// raw content first since it keeps the symbols the extractor may drop,
// then the extracted description, then the chat base currency.
func captureCurrency(content, description, base string) string {
	if code, ok := fx.DetectCurrency(content); ok {
		return code
	}
	if code, ok := fx.DetectCurrency(description); ok {
		return code
	}
	return base
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
