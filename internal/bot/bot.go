package bot

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/splitbot/internal/extract"
	"github.com/susu3304/splitbot/internal/ledger"
)

// Bot wires Discord events to the ledger engine. Besides the /split
// slash command it watches plain channel messages for expense-looking
// text and offers to record it after confirmation.
type Bot struct {
	session   *discordgo.Session
	ledger    *ledger.Service
	extractor *extract.Extractor

	mu      sync.Mutex
	pending map[string]*pendingExpense
}

// pendingExpense is a captured free-text expense waiting for the author
// to press confirm or dismiss.
type pendingExpense struct {
	chatID    int64
	payerID   int64
	payerName string
	input     ledger.ExpenseInput
	createdAt time.Time
}

const pendingTTL = 15 * time.Minute

func New(token string, svc *ledger.Service, extractor *extract.Extractor) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := &Bot{
		session:   session,
		ledger:    svc,
		extractor: extractor,
		pending:   make(map[string]*pendingExpense),
	}

	// Register event handlers
	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onGuildCreate)
	session.AddHandler(bot.onMessageCreate)
	session.AddHandler(bot.onInteractionCreate)

	session.Identify.Intents = discordgo.IntentsAll

	return bot, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	log.Println("Discord bot is running")
	return nil
}

func (b *Bot) Stop() error {
	return b.session.Close()
}

func (b *Bot) storePending(key string, p *pendingExpense) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range b.pending {
		if time.Since(v.createdAt) > pendingTTL {
			delete(b.pending, k)
		}
	}
	b.pending[key] = p
}

func (b *Bot) takePending(key string) *pendingExpense {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[key]
	if !ok {
		return nil
	}
	delete(b.pending, key)
	if time.Since(p.createdAt) > pendingTTL {
		return nil
	}
	return p
}
