// Package discord connects the router to a Discord guild.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"github.com/bombom/pumpkin/pkg/config"
	"github.com/bombom/pumpkin/pkg/format"
	"github.com/bombom/pumpkin/pkg/router"
	"github.com/bombom/pumpkin/pkg/slap"
)

// Router routes one chat message.
type Router interface {
	Route(ctx context.Context, req router.Request) router.Outcome
}

type Bot struct {
	session *discordgo.Session
	router  Router
	cfg     *config.BotConfig
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	guildMu sync.RWMutex
	guildID string
}

func createDiscordSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildPresences |
		discordgo.IntentsMessageContent
	session.State.TrackPresences = true
	session.State.TrackMembers = true

	return session, nil
}

func NewBot(cfg *config.BotConfig, r Router, logger *log.Logger) (*Bot, error) {
	if cfg.DiscordToken == "" {
		return nil, errors.New("DISCORD_TOKEN environment variable not set")
	}

	session, err := createDiscordSession(cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		session: session,
		router:  r,
		cfg:     cfg,
		logger:  logger.With("component", "discord"),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onMessageCreate)
}

func (b *Bot) Start() error {
	b.registerHandlers()
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	return nil
}

func (b *Bot) Close() error {
	b.cancel()
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("failed to close Discord session: %w", err)
	}
	return nil
}

// ================= EVENT HANDLERS =================

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("logged in", "user", s.State.User.Username, "guilds", len(event.Guilds))
}

func (b *Bot) onGuildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	b.guildMu.Lock()
	defer b.guildMu.Unlock()
	if b.guildID == "" {
		b.guildID = event.ID
		b.logger.Info("serving guild", "guild", event.Name, "members", event.MemberCount)
	}
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if !strings.HasPrefix(m.Content, b.cfg.Prefix) {
		return
	}

	t := newThread(b, m.ChannelID)
	defer t.markReady()

	req := router.Request{
		Text:     m.Content,
		Role:     b.roleOf(m.GuildID, m.Member),
		Channel:  b.channelName(m.ChannelID),
		Author:   memberOf(m.Member, m.Author),
		Bot:      s.State.User.Mention(),
		BotName:  s.State.User.Username,
		Members:  b.members(m.GuildID),
		FollowUp: t.followUp,
	}

	out := b.router.Route(b.ctx, req)
	if out.Kind == router.Unrecognized {
		return
	}
	t.reply(out.Reply)
}

// ================= GUILD LOOKUPS =================

func (b *Bot) roleOf(guildID string, member *discordgo.Member) router.Role {
	if member == nil {
		return router.Guest
	}
	names := make([]string, 0, len(member.Roles))
	for _, id := range member.Roles {
		role, err := b.session.State.Role(guildID, id)
		if err != nil {
			continue
		}
		names = append(names, role.Name)
	}
	return roleFromNames(names, b.cfg.AdminRole, b.cfg.UserRole)
}

func roleFromNames(names []string, adminRole, userRole string) router.Role {
	role := router.Guest
	for _, n := range names {
		switch {
		case strings.EqualFold(n, adminRole):
			return router.Admin
		case strings.EqualFold(n, userRole):
			role = router.Member
		}
	}
	return role
}

func (b *Bot) channelName(channelID string) string {
	ch, err := b.session.State.Channel(channelID)
	if err != nil {
		return ""
	}
	return ch.Name
}

func (b *Bot) members(guildID string) []slap.Member {
	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		return nil
	}
	out := make([]slap.Member, 0, len(guild.Members))
	for _, m := range guild.Members {
		if m.User == nil || m.User.Bot {
			continue
		}
		out = append(out, memberOf(m, m.User))
	}
	return out
}

func memberOf(m *discordgo.Member, u *discordgo.User) slap.Member {
	if u == nil {
		return slap.Member{}
	}
	name := u.Username
	if m != nil && m.Nick != "" {
		name = m.Nick
	}
	return slap.Member{ID: u.ID, Name: name, Mention: u.Mention()}
}

func (b *Bot) guild() string {
	b.guildMu.RLock()
	defer b.guildMu.RUnlock()
	return b.guildID
}

// PlayersOf counts guild members whose presence shows them playing game.
func (b *Bot) PlayersOf(game string) int {
	guild, err := b.session.State.Guild(b.guild())
	if err != nil {
		return 0
	}
	return countPlaying(guild.Presences, game)
}

func countPlaying(presences []*discordgo.Presence, game string) int {
	n := 0
	for _, p := range presences {
		if p == nil || (p.User != nil && p.User.Bot) {
			continue
		}
		for _, a := range p.Activities {
			if a != nil && a.Type == discordgo.ActivityTypeGame && strings.EqualFold(a.Name, game) {
				n++
				break
			}
		}
	}
	return n
}

// SetGame shows the running game as the bot's activity. An empty name clears it.
func (b *Bot) SetGame(display string) {
	if err := b.session.UpdateGameStatus(0, display); err != nil {
		b.logger.Warn("failed to update presence", "game", display, "err", err)
	}
}

// Announce posts a reply to the configured command channel.
func (b *Bot) Announce(reply format.Reply) error {
	guild, err := b.session.State.Guild(b.guild())
	if err != nil {
		return fmt.Errorf("guild not available: %w", err)
	}
	for _, ch := range guild.Channels {
		if ch.Type == discordgo.ChannelTypeGuildText && strings.EqualFold(ch.Name, b.cfg.CommandChannel) {
			_, err := b.session.ChannelMessageSendComplex(ch.ID, toMessage(reply, b.cfg.Color))
			return err
		}
	}
	return fmt.Errorf("command channel %q not found", b.cfg.CommandChannel)
}

// NotifyOwner sends reply to the configured owner as a direct message.
// Nothing is sent when no owner is configured.
func (b *Bot) NotifyOwner(reply format.Reply) {
	if b.cfg.OwnerID == "" {
		return
	}
	ch, err := b.session.UserChannelCreate(b.cfg.OwnerID)
	if err != nil {
		b.logger.Warn("failed to open owner DM", "owner", b.cfg.OwnerID, "err", err)
		return
	}
	if _, err := b.session.ChannelMessageSendEmbed(ch.ID, toEmbed(reply, b.cfg.Color)); err != nil {
		b.logger.Warn("failed to notify owner", "owner", b.cfg.OwnerID, "err", err)
	}
}

// ================= MESSAGES =================

func toEmbed(r format.Reply, color int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       r.Title,
		Description: r.Text,
		Color:       color,
	}
	if r.Author != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: r.Author}
	}
	for _, f := range r.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: false,
		})
	}
	return embed
}

func toMessage(r format.Reply, color int) *discordgo.MessageSend {
	msg := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{toEmbed(r, color)}}
	if r.Mention != "" {
		msg.Content = r.Mention
		msg.AllowedMentions = &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeEveryone},
		}
	}
	return msg
}

// thread tracks the reply to one command so a follow-up can replace the
// progress message.
type thread struct {
	b         *Bot
	channelID string

	once  sync.Once
	ready chan struct{}
	mu    sync.Mutex
	msg   *discordgo.Message
}

func newThread(b *Bot, channelID string) *thread {
	return &thread{b: b, channelID: channelID, ready: make(chan struct{})}
}

func (t *thread) markReady() {
	t.once.Do(func() { close(t.ready) })
}

func (t *thread) reply(r format.Reply) {
	defer t.markReady()
	msg, err := t.b.session.ChannelMessageSendEmbed(t.channelID, toEmbed(r, t.b.cfg.Color))
	if err != nil {
		t.b.logger.Error("failed to send reply", "channel", t.channelID, "err", err)
		return
	}
	t.mu.Lock()
	t.msg = msg
	t.mu.Unlock()
}

func (t *thread) followUp(r format.Reply) {
	select {
	case <-t.ready:
	case <-time.After(30 * time.Second):
	}

	t.mu.Lock()
	progress := t.msg
	t.msg = nil
	t.mu.Unlock()

	if progress != nil {
		if err := t.b.session.ChannelMessageDelete(t.channelID, progress.ID); err != nil {
			// The progress message may already have been deleted by a user.
			var restErr *discordgo.RESTError
			if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != 404 {
				t.b.logger.Warn("failed to delete progress message", "err", err)
			}
		}
	}
	if _, err := t.b.session.ChannelMessageSendEmbed(t.channelID, toEmbed(r, t.b.cfg.Color)); err != nil {
		t.b.logger.Error("failed to send follow-up", "channel", t.channelID, "err", err)
	}
}
