package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Tihlyn/Cappuccino/internal/event"
)

// Announcer posts and maintains event announcement embeds in the
// configured events channel
type Announcer struct {
	session   *discordgo.Session
	channelID string
}

// NewAnnouncer creates an Announcer bound to the events channel
func NewAnnouncer(session *discordgo.Session, channelID string) *Announcer {
	return &Announcer{session: session, channelID: channelID}
}

// Announce posts a fresh announcement and returns its message id
func (a *Announcer) Announce(ev *event.Event) (string, error) {
	msg, err := a.session.ChannelMessageSendEmbed(a.channelID, buildEventEmbed(ev))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Update re-renders the announcement in place
func (a *Announcer) Update(ev *event.Event) error {
	_, err := a.session.ChannelMessageEditEmbed(a.channelID, ev.MessageID, buildEventEmbed(ev))
	return err
}

// Remove deletes the announcement message
func (a *Announcer) Remove(messageID string) error {
	return a.session.ChannelMessageDelete(a.channelID, messageID)
}

// buildEventEmbed renders the event with its role-grouped roster
func buildEventEmbed(ev *event.Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s — %s", ev.Type.Display(), event.FormatInZones(ev.Date)),
		Color: 0xC8A27C,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Event %s · %s party", ev.ID, strings.ReplaceAll(string(ev.GroupType), "_", " ")),
		},
	}

	if ev.Description != "" {
		embed.Description = ev.Description
	}

	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "Organizer",
		Value:  fmt.Sprintf("<@%s>", ev.OrganizerID),
		Inline: true,
	})
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "Slots",
		Value:  fmt.Sprintf("%d / %d", len(ev.Participants), ev.GroupType.Capacity()),
		Inline: true,
	})

	for _, role := range []event.Role{event.RoleTank, event.RoleHealer, event.RoleDPS, event.RoleBlueMage} {
		var lines []string
		for _, p := range ev.Participants {
			if p.Role != role {
				continue
			}
			line := fmt.Sprintf("<@%s>", p.UserID)
			if p.Class != "" {
				line += fmt.Sprintf(" (%s)", strings.ReplaceAll(p.Class, "_", " "))
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			continue
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  role.Display(),
			Value: strings.Join(lines, "\n"),
		})
	}

	if len(ev.Participants) == 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Roster",
			Value: "No signups yet — use `/event join` to grab a slot!",
		})
	}

	return embed
}
