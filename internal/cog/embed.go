package cog

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	fieldLimit     = 1000
	fieldsPerEmbed = 25
)

// EmbedBuilder assembles one or more embeds from fields of arbitrary
// length, splitting across embeds when Discord's limits demand it. The
// title goes on the first embed, the invoker footer on the last.
type EmbedBuilder struct {
	title   string
	color   int
	invoker string
	fields  []*discordgo.MessageEmbedField
}

func NewEmbed(title string, color int) *EmbedBuilder {
	return &EmbedBuilder{title: title, color: color}
}

// Invoker stamps the footer with who asked and when.
func (b *EmbedBuilder) Invoker(username string) *EmbedBuilder {
	b.invoker = username
	return b
}

// Field adds a field, splitting values over the per-field character cap.
func (b *EmbedBuilder) Field(name, value string, inline bool) *EmbedBuilder {
	if value == "" {
		value = "-"
	}
	part := 0
	for len(value) > fieldLimit {
		cut := fieldLimit
		for cut > 0 && value[cut-1] != '\n' {
			cut--
		}
		if cut == 0 {
			cut = fieldLimit
		}
		b.fields = append(b.fields, &discordgo.MessageEmbedField{
			Name:   partName(name, part),
			Value:  value[:cut],
			Inline: inline,
		})
		value = value[cut:]
		part++
	}
	b.fields = append(b.fields, &discordgo.MessageEmbedField{
		Name:   partName(name, part),
		Value:  value,
		Inline: inline,
	})
	return b
}

func partName(name string, part int) string {
	if part == 0 {
		return name
	}
	return fmt.Sprintf("%s (cont. %d)", name, part+1)
}

// Build renders the accumulated fields into as many embeds as needed.
func (b *EmbedBuilder) Build() []*discordgo.MessageEmbed {
	var embeds []*discordgo.MessageEmbed
	fields := b.fields
	if len(fields) == 0 {
		fields = nil
	}
	for first := true; first || len(fields) > 0; first = false {
		n := len(fields)
		if n > fieldsPerEmbed {
			n = fieldsPerEmbed
		}
		e := &discordgo.MessageEmbed{Color: b.color, Fields: fields[:n]}
		if first {
			e.Title = b.title
		}
		fields = fields[n:]
		if len(fields) == 0 && b.invoker != "" {
			e.Footer = &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf("Requested by %s", b.invoker),
			}
			e.Timestamp = time.Now().Format(time.RFC3339)
		}
		embeds = append(embeds, e)
	}
	return embeds
}
