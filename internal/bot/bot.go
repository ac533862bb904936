package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/Tihlyn/Cappuccino/internal/config"
	"github.com/Tihlyn/Cappuccino/internal/event"
	"github.com/Tihlyn/Cappuccino/internal/notify"
	"github.com/Tihlyn/Cappuccino/internal/reminder"
	"github.com/Tihlyn/Cappuccino/internal/scheduler"
	"github.com/Tihlyn/Cappuccino/internal/storage"
	"github.com/Tihlyn/Cappuccino/internal/trivia"
)

// Bot represents the Discord bot instance
type Bot struct {
	config    *config.Config
	session   *discordgo.Session
	repo      *storage.Repository
	events    *event.Service
	trivia    *trivia.Manager
	scheduler *scheduler.Scheduler
	commands  []*discordgo.ApplicationCommand
}

// New creates a new Bot instance
func New(cfg *config.Config) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	// Initialize storage
	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Wire the event pipeline: dispatcher and announcer around the
	// session, scheduler over storage, orchestrator consuming fired
	// jobs, state machine on top
	dispatcher := notify.New(notify.NewDiscordMessenger(session), repo)
	announcer := NewAnnouncer(session, cfg.EventChannelID)
	sched := scheduler.New(repo, cfg.SchedulerIntervalSeconds)
	orchestrator := reminder.New(repo, sched, dispatcher, announcer)
	sched.SetHandler(orchestrator.HandleJob)

	events := event.NewService(repo, orchestrator, dispatcher, announcer, cfg.EventManagerRoleID)

	b := &Bot{
		config:    cfg,
		session:   session,
		repo:      repo,
		events:    events,
		trivia:    trivia.NewManager(repo),
		scheduler: sched,
	}

	// Register command handlers
	b.registerHandlers()

	return b, nil
}

// Start opens the Discord connection and starts background tasks
func (b *Bot) Start(ctx context.Context) error {
	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	// Start the job scheduler; pending jobs from before a restart are
	// drained on the first tick
	go b.scheduler.Start(ctx)

	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	// Stop the scheduler loop
	if b.scheduler != nil {
		b.scheduler.Stop()
	}

	// Close storage
	if b.repo != nil {
		b.repo.Close()
	}

	// Close Discord session
	if b.session != nil {
		return b.session.Close()
	}

	return nil
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
	})
}

// handleInteraction processes slash command interactions
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	slog.Debug("Received command", "command", data.Name, "guild", i.GuildID)

	switch data.Name {
	case "event":
		b.handleEvent(s, i)
	case "trivia":
		b.handleTrivia(s, i)
	default:
		slog.Warn("Unknown command", "command", data.Name)
	}
}
