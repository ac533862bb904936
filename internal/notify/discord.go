package notify

import "github.com/bwmarrin/discordgo"

// DiscordMessenger adapts a discordgo session to the Messenger
// interface
type DiscordMessenger struct {
	session *discordgo.Session
}

// NewDiscordMessenger wraps a discordgo session
func NewDiscordMessenger(session *discordgo.Session) *DiscordMessenger {
	return &DiscordMessenger{session: session}
}

func (m *DiscordMessenger) UserChannelCreate(userID string) (string, error) {
	channel, err := m.session.UserChannelCreate(userID)
	if err != nil {
		return "", err
	}
	return channel.ID, nil
}

func (m *DiscordMessenger) ChannelMessageSend(channelID, content string) (string, error) {
	msg, err := m.session.ChannelMessageSend(channelID, content)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (m *DiscordMessenger) ChannelMessageDelete(channelID, messageID string) error {
	return m.session.ChannelMessageDelete(channelID, messageID)
}
