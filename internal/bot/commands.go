package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Tihlyn/Cappuccino/internal/event"
	"github.com/Tihlyn/Cappuccino/internal/trivia"
)

// buildActivityChoices creates the activity type choices for slash commands
func buildActivityChoices() []*discordgo.ApplicationCommandOptionChoice {
	types := event.ActivityTypes()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, len(types))
	for i, t := range types {
		choices[i] = &discordgo.ApplicationCommandOptionChoice{
			Name:  t.Display(),
			Value: string(t),
		}
	}
	return choices
}

func buildRoleChoices() []*discordgo.ApplicationCommandOptionChoice {
	roles := []event.Role{event.RoleTank, event.RoleHealer, event.RoleDPS, event.RoleBlueMage}
	choices := make([]*discordgo.ApplicationCommandOptionChoice, len(roles))
	for i, r := range roles {
		choices[i] = &discordgo.ApplicationCommandOptionChoice{
			Name:  r.Display(),
			Value: string(r),
		}
	}
	return choices
}

func buildGroupChoices() []*discordgo.ApplicationCommandOptionChoice {
	return []*discordgo.ApplicationCommandOptionChoice{
		{Name: "Standard (2 tanks / 2 healers / 4 DPS)", Value: string(event.GroupStandard)},
		{Name: "Non-standard (8 slots, any comp)", Value: string(event.GroupNonStandard)},
		{Name: "Light party (4 slots, any comp)", Value: string(event.GroupLightParty)},
	}
}

func buildTimezoneChoices() []*discordgo.ApplicationCommandOptionChoice {
	tags := event.TimezoneTags()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, len(tags))
	for i, tag := range tags {
		choices[i] = &discordgo.ApplicationCommandOptionChoice{Name: tag, Value: tag}
	}
	return choices
}

// Slash command definitions
func (b *Bot) getCommandDefinitions() []*discordgo.ApplicationCommand {
	eventIDOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "event_id",
		Description: "The event id (shown in the announcement footer)",
		Required:    true,
	}
	roleOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "role",
		Description: "Your party role",
		Required:    true,
		Choices:     buildRoleChoices(),
	}
	classOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "class",
		Description: "Optional class within the role (e.g. warrior, sage)",
		Required:    false,
	}
	dateOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "date",
		Description: "Date as YYYY-MM-DD",
		Required:    true,
	}
	timeOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "time",
		Description: "Time as HH:MM (24h)",
		Required:    true,
	}
	timezoneOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "timezone",
		Description: "Timezone the date/time is given in",
		Required:    false,
		Choices:     buildTimezoneChoices(),
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "event",
			Description: "Manage scheduled events",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "create",
					Description: "Schedule a new event",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "type",
							Description: "Activity category",
							Required:    true,
							Choices:     buildActivityChoices(),
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "group",
							Description: "Party composition rules",
							Required:    true,
							Choices:     buildGroupChoices(),
						},
						dateOption,
						timeOption,
						timezoneOption,
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "description",
							Description: "Optional free-text description",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "join",
					Description: "Sign up for an event",
					Options:     []*discordgo.ApplicationCommandOption{eventIDOption, roleOption, classOption},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "role",
					Description: "Change your role or class on an event",
					Options:     []*discordgo.ApplicationCommandOption{eventIDOption, roleOption, classOption},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "time",
					Description: "Move an event to a new time (organizer only)",
					Options:     []*discordgo.ApplicationCommandOption{eventIDOption, dateOption, timeOption, timezoneOption},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "withdraw",
					Description: "Withdraw from an event",
					Options:     []*discordgo.ApplicationCommandOption{eventIDOption},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "cancel",
					Description: "Cancel an event (organizer only)",
					Options:     []*discordgo.ApplicationCommandOption{eventIDOption},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List upcoming events",
				},
			},
		},
		{
			Name:        "trivia",
			Description: "Run a trivia round in this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "start",
					Description: "Start a trivia session",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "category",
							Description: "Optional question category",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "stop",
					Description: "Stop the running trivia session",
				},
			},
		},
	}
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := b.getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			b.session.State.User.ID,
			"", // Empty string = global command
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// handleEvent routes /event subcommands
func (b *Bot) handleEvent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sub := i.ApplicationCommandData().Options[0]
	opts := optionMap(sub.Options)

	switch sub.Name {
	case "create":
		b.handleEventCreate(s, i, opts)
	case "join":
		b.handleEventJoin(s, i, opts)
	case "role":
		b.handleEventRole(s, i, opts)
	case "time":
		b.handleEventTime(s, i, opts)
	case "withdraw":
		b.handleEventWithdraw(s, i, opts)
	case "cancel":
		b.handleEventCancel(s, i, opts)
	case "list":
		b.handleEventList(s, i)
	default:
		slog.Warn("Unknown event subcommand", "subcommand", sub.Name)
	}
}

// handleEventCreate handles /event create
func (b *Bot) handleEventCreate(s *discordgo.Session, i *discordgo.InteractionCreate, opts optionValues) {
	// Respond immediately to avoid timeout; creating posts an embed
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ev, err := b.events.Create(ctx, event.CreateParams{
		Type:        event.ActivityType(opts.str("type")),
		GroupType:   event.GroupType(opts.str("group")),
		DateStr:     opts.str("date"),
		TimeStr:     opts.str("time"),
		Timezone:    opts.strOr("timezone", b.config.DefaultTimezone),
		Description: opts.str("description"),
		OrganizerID: i.Member.User.ID,
	})
	if err != nil {
		b.editResponse(s, i, userMessage(err))
		return
	}

	b.editResponse(s, i, fmt.Sprintf(
		"Scheduled **%s** for %s. Event id: `%s` — sign up with `/event join`!",
		ev.Type.Display(), event.FormatInZones(ev.Date), ev.ID))
}

// handleEventJoin handles /event join
func (b *Bot) handleEventJoin(s *discordgo.Session, i *discordgo.InteractionCreate, opts optionValues) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ev, err := b.events.Join(ctx, opts.str("event_id"), i.Member.User.ID,
		event.Role(opts.str("role")), normalizeClass(opts.str("class")))
	if err != nil {
		respondWithMessage(s, i, userMessage(err))
		return
	}

	respondWithMessage(s, i, fmt.Sprintf("You are in! **%s** on %s (%d/%d slots filled).",
		ev.Type.Display(), event.FormatInZones(ev.Date),
		len(ev.Participants), ev.GroupType.Capacity()))
}

// handleEventRole handles /event role
func (b *Bot) handleEventRole(s *discordgo.Session, i *discordgo.InteractionCreate, opts optionValues) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ev, err := b.events.ChangeRole(ctx, opts.str("event_id"), i.Member.User.ID,
		event.Role(opts.str("role")), normalizeClass(opts.str("class")))
	if err != nil {
		respondWithMessage(s, i, userMessage(err))
		return
	}

	p, _ := ev.Participant(i.Member.User.ID)
	respondWithMessage(s, i, fmt.Sprintf("Updated: you are now %s for **%s**.",
		p.Role.Display(), ev.Type.Display()))
}

// handleEventTime handles /event time
func (b *Bot) handleEventTime(s *discordgo.Session, i *discordgo.InteractionCreate, opts optionValues) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ev, err := b.events.ChangeTime(ctx, opts.str("event_id"), i.Member.User.ID, i.Member.Roles,
		opts.str("date"), opts.str("time"), opts.strOr("timezone", b.config.DefaultTimezone))
	if err != nil {
		b.editResponse(s, i, userMessage(err))
		return
	}

	b.editResponse(s, i, fmt.Sprintf("Moved **%s** to %s. All participants have been notified.",
		ev.Type.Display(), event.FormatInZones(ev.Date)))
}

// handleEventWithdraw handles /event withdraw
func (b *Bot) handleEventWithdraw(s *discordgo.Session, i *discordgo.InteractionCreate, opts optionValues) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ev, err := b.events.Withdraw(ctx, opts.str("event_id"), i.Member.User.ID)
	if err != nil {
		respondWithMessage(s, i, userMessage(err))
		return
	}

	respondWithMessage(s, i, fmt.Sprintf("You withdrew from **%s** on %s.",
		ev.Type.Display(), event.FormatInZones(ev.Date)))
}

// handleEventCancel handles /event cancel
func (b *Bot) handleEventCancel(s *discordgo.Session, i *discordgo.InteractionCreate, opts optionValues) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	eventID := opts.str("event_id")
	if err := b.events.Delete(ctx, eventID, i.Member.User.ID, i.Member.Roles); err != nil {
		b.editResponse(s, i, userMessage(err))
		return
	}

	b.editResponse(s, i, "Event cancelled. All participants have been notified.")
}

// handleEventList handles /event list
func (b *Bot) handleEventList(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, err := b.events.List(ctx)
	if err != nil {
		slog.Error("Failed to list events", "error", err)
		respondWithMessage(s, i, "Failed to retrieve the event list.")
		return
	}

	if len(events) == 0 {
		respondWithMessage(s, i, "No events are scheduled.\nUse `/event create` to plan one!")
		return
	}

	var sb strings.Builder
	sb.WriteString("**Upcoming Events:**\n\n")
	for idx, ev := range events {
		sb.WriteString(fmt.Sprintf("%d. **%s** — %s (%d/%d signed up) · `%s`\n",
			idx+1, ev.Type.Display(), event.FormatInZones(ev.Date),
			len(ev.Participants), ev.GroupType.Capacity(), ev.ID))
	}

	respondWithMessage(s, i, sb.String())
}

// handleTrivia routes /trivia subcommands
func (b *Bot) handleTrivia(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sub := i.ApplicationCommandData().Options[0]
	opts := optionMap(sub.Options)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch sub.Name {
	case "start":
		session, err := b.trivia.Start(ctx, i.ChannelID, i.Member.User.ID, opts.str("category"))
		if err != nil {
			respondWithMessage(s, i, userMessage(err))
			return
		}
		msg := "Trivia time! First question coming up."
		if session.Category != "" {
			msg = fmt.Sprintf("Trivia time! Category: **%s**.", session.Category)
		}
		respondWithMessage(s, i, msg)
	case "stop":
		if err := b.trivia.Stop(ctx, i.ChannelID); err != nil {
			respondWithMessage(s, i, userMessage(err))
			return
		}
		respondWithMessage(s, i, "Trivia session stopped. Thanks for playing!")
	default:
		slog.Warn("Unknown trivia subcommand", "subcommand", sub.Name)
	}
}

// Helper functions

// optionValues indexes subcommand options by name
type optionValues map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) optionValues {
	m := make(optionValues, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

func (o optionValues) str(name string) string {
	if opt, ok := o[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func (o optionValues) strOr(name, fallback string) string {
	if v := o.str(name); v != "" {
		return v
	}
	return fallback
}

// normalizeClass lowercases and underscores a class name so "Dark
// Knight" matches dark_knight
func normalizeClass(class string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(class)), " ", "_")
}

// userMessage maps domain errors to a message identifying exactly
// which constraint failed
func userMessage(err error) string {
	var verr *event.ValidationError
	if errors.As(err, &verr) {
		return capitalize(verr.Error())
	}
	var rerr *event.RoleFullError
	if errors.As(err, &rerr) {
		return capitalize(rerr.Error())
	}

	switch {
	case errors.Is(err, event.ErrNotFound):
		return "That event no longer exists."
	case errors.Is(err, event.ErrAlreadyParticipating),
		errors.Is(err, event.ErrEventFull),
		errors.Is(err, event.ErrNotParticipating),
		errors.Is(err, event.ErrInvalidRole),
		errors.Is(err, event.ErrInvalidClass),
		errors.Is(err, event.ErrForbidden),
		errors.Is(err, trivia.ErrSessionActive),
		errors.Is(err, trivia.ErrNoSession):
		return capitalize(err.Error())
	}

	slog.Error("Unexpected command error", "error", err)
	return "Something went wrong. Please try again."
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func respondWithMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	})
}

func (b *Bot) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
}
