package commands

import (
	"bytes"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// ParseChatID converts a Discord snowflake string to the int64 chat or
// participant id used by the ledger. Returns 0 on malformed input.
func ParseChatID(snowflake string) int64 {
	id, err := strconv.ParseInt(snowflake, 10, 64)
	if err != nil {
		log.Printf("Failed to parse snowflake '%s': %v", snowflake, err)
		return 0
	}
	return id
}

var mentionPattern = regexp.MustCompile(`<@!?([0-9]+)>`)

// parseMentionTokens splits a participants option into Discord user ids
// and plain-name tokens. Supports <@123>, <@!123>, raw ids, and names
// separated by spaces or commas.
func parseMentionTokens(text string) (ids []int64, names []string) {
	rest := mentionPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := mentionPattern.FindStringSubmatch(m)
		if id, err := strconv.ParseInt(sub[1], 10, 64); err == nil {
			ids = append(ids, id)
		}
		return " "
	})
	for _, tok := range strings.FieldsFunc(rest, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	}) {
		if id, err := strconv.ParseInt(tok, 10, 64); err == nil && id > 0 {
			ids = append(ids, id)
			continue
		}
		names = append(names, tok)
	}
	return ids, names
}

func getStringOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) *string {
	for _, o := range opts {
		if o.Name == name {
			v := o.StringValue()
			return &v
		}
	}
	return nil
}

func getNumberOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) *float64 {
	for _, o := range opts {
		if o.Name == name {
			v := o.FloatValue()
			return &v
		}
	}
	return nil
}

func getIntOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) *int64 {
	for _, o := range opts {
		if o.Name == name {
			v := o.IntValue()
			return &v
		}
	}
	return nil
}

func getUserOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name != name {
			continue
		}
		if id, ok := o.Value.(string); ok && id != "" {
			return id
		}
		if u := o.UserValue(nil); u != nil {
			return u.ID
		}
	}
	return ""
}

func respondText(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
}

func respondFile(s *discordgo.Session, i *discordgo.InteractionCreate, content, filename string, data []byte) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Files: []*discordgo.File{
				{
					Name:        filename,
					ContentType: "text/csv",
					Reader:      bytes.NewReader(data),
				},
			},
		},
	})
}
