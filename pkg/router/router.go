// Package router turns chat messages into bot actions and replies.
package router

import (
	"context"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-shellwords"
	uuid "github.com/satori/go.uuid"

	"github.com/bombom/pumpkin/pkg/config"
	"github.com/bombom/pumpkin/pkg/format"
	"github.com/bombom/pumpkin/pkg/guard"
	"github.com/bombom/pumpkin/pkg/server"
	"github.com/bombom/pumpkin/pkg/slap"
)

// Role is the bot permission level of a message author.
type Role int

const (
	Guest Role = iota
	Member
	Admin
)

func (r Role) String() string {
	switch r {
	case Admin:
		return "admin"
	case Member:
		return "member"
	default:
		return "guest"
	}
}

// Kind classifies what the router did with a message.
type Kind int

const (
	Unrecognized Kind = iota
	Handled
	PermissionDenied
)

// Outcome is the result of routing one message. Reply is empty for
// Unrecognized.
type Outcome struct {
	Kind  Kind
	Reply format.Reply
}

// Request is one chat message with the context needed to answer it.
type Request struct {
	Text    string
	Role    Role
	Channel string
	Author  slap.Member
	Bot     string // mention of the bot user
	BotName string
	Members []slap.Member

	// FollowUp posts a later reply to the same channel.
	FollowUp func(format.Reply)
}

// Lifecycle is what the router needs from the server controller.
type Lifecycle interface {
	Start(ctx context.Context, game string, followUp server.FollowUp) (server.Result, error)
	Stop(ctx context.Context, followUp server.FollowUp) (server.Result, error)
	Change(ctx context.Context, game string, followUp server.FollowUp) (server.Result, error)
	Status(ctx context.Context, detail bool) (server.Snapshot, error)
	Guard() *guard.Guard
}

// Router dispatches prefixed commands.
type Router struct {
	cfg       *config.BotConfig
	lifecycle Lifecycle
	slapper   *slap.Slapper
	logger    *log.Logger

	mu      sync.RWMutex
	onError func(format.Reply)
}

// New creates a Router.
func New(cfg *config.BotConfig, lifecycle Lifecycle, slapper *slap.Slapper, logger *log.Logger) *Router {
	return &Router{cfg: cfg, lifecycle: lifecycle, slapper: slapper, logger: logger}
}

// OnError registers fn to receive a report whenever a server command fails
// unexpectedly.
func (r *Router) OnError(fn func(format.Reply)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

func (r *Router) reportError(command string, err error) {
	r.mu.RLock()
	fn := r.onError
	r.mu.RUnlock()
	if fn != nil {
		fn(format.OwnerError(r.cfg.Prefix, command, err))
	}
}

// Route handles one message.
func (r *Router) Route(ctx context.Context, req Request) Outcome {
	if !strings.HasPrefix(req.Text, r.cfg.Prefix) {
		return Outcome{}
	}
	args, err := shellwords.Parse(strings.TrimPrefix(req.Text, r.cfg.Prefix))
	if err != nil || len(args) == 0 {
		return Outcome{}
	}

	logger := r.logger.With("request", uuid.NewV4().String(), "author", req.Author.Name, "channel", req.Channel)
	verb := strings.ToLower(args[0])

	switch verb {
	case "help":
		logger.Debug("help requested", "args", args[1:])
		return handled(r.help(args[1:], req))
	case "slap":
		target := strings.Join(args[1:], " ")
		logger.Debug("slap requested", "target", target)
		return handled(format.Text("%s", r.slapper.Slap(req.Bot, req.Author, target, req.Members)))
	case "server":
		return r.server(ctx, logger, args[1:], req)
	default:
		return Outcome{}
	}
}

func (r *Router) help(args []string, req Request) format.Reply {
	topic := ""
	if len(args) > 0 {
		topic = strings.ToLower(args[0])
	}
	switch topic {
	case "server":
		return format.HelpServer(r.cfg.Prefix, r.cfg.GameNames())
	case "groovy":
		return format.HelpGroovy()
	case "sesh":
		return format.HelpSesh()
	default:
		return format.HelpGeneral(r.cfg.Prefix, req.BotName)
	}
}

func (r *Router) server(ctx context.Context, logger *log.Logger, args []string, req Request) Outcome {
	sub := ""
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	game := ""
	if len(args) > 1 {
		game = strings.Join(args[1:], " ")
	}

	switch sub {
	case "enable", "disable":
		if req.Role < Admin {
			logger.Warn("permission denied", "command", sub, "role", req.Role)
			return Outcome{Kind: PermissionDenied, Reply: format.PermissionDenied(r.cfg.AdminRole)}
		}
		return handled(r.toggle(logger, sub))
	case "start", "stop", "change", "status":
	default:
		return handled(format.ServerUsage(r.cfg.Prefix, r.cfg.GameNames()))
	}

	if req.Role < Member {
		logger.Warn("permission denied", "command", sub, "role", req.Role)
		return Outcome{Kind: PermissionDenied, Reply: format.PermissionDenied(r.cfg.UserRole)}
	}
	if !r.inCommandChannel(sub, req) {
		return handled(format.WrongChannel(r.cfg.CommandChannel))
	}

	logger.Info("server command", "command", sub, "game", game)
	followUp := func(ev server.Event) {
		if ev.Kind == server.EventFailed {
			logger.Error("server command failed in background", "command", sub, "err", ev.Err)
			r.reportError("server "+sub, ev.Err)
		}
		if req.FollowUp != nil {
			req.FollowUp(format.FollowUp(ev))
		}
	}

	var res server.Result
	var err error
	switch sub {
	case "status":
		snap, err := r.lifecycle.Status(ctx, req.Role == Admin)
		if err != nil {
			logger.Error("status failed", "err", err)
			r.reportError("server status", err)
			return handled(format.Text(format.MsgCloudFailure))
		}
		return handled(format.Status(snap, req.Role == Admin, r.cfg.Location))
	case "start":
		if game == "" {
			return handled(format.MissingGame(r.cfg.Prefix, "server start", "start", r.cfg.GameNames()))
		}
		res, err = r.lifecycle.Start(ctx, game, followUp)
	case "stop":
		res, err = r.lifecycle.Stop(ctx, followUp)
	case "change":
		if game == "" {
			return handled(format.MissingGame(r.cfg.Prefix, "server change", "switch to", r.cfg.GameNames()))
		}
		res, err = r.lifecycle.Change(ctx, game, followUp)
	}
	if err != nil {
		logger.Error("server command failed", "command", sub, "err", err)
		r.reportError("server "+sub, err)
		return handled(format.Text(format.MsgCloudFailure))
	}
	logger.Debug("server command result", "command", sub, "outcome", res.Outcome)
	return handled(r.result(sub, res))
}

func (r *Router) inCommandChannel(sub string, req Request) bool {
	if r.cfg.CommandChannel == "" || strings.EqualFold(req.Channel, r.cfg.CommandChannel) {
		return true
	}
	return sub == "status" && req.Role == Admin
}

func (r *Router) toggle(logger *log.Logger, sub string) format.Reply {
	g := r.lifecycle.Guard()
	if sub == "disable" {
		if !g.Disable() {
			return format.Text(format.MsgAlreadyDisabled)
		}
		logger.Info("server commands disabled")
		return format.Text(format.MsgDisabled)
	}
	if !g.Enable() {
		return format.Text(format.MsgAlreadyEnabled)
	}
	logger.Info("server commands enabled")
	return format.Text(format.MsgEnabled)
}

func (r *Router) result(sub string, res server.Result) format.Reply {
	switch res.Outcome {
	case server.Accepted:
		switch sub {
		case "start":
			return format.Text(format.MsgStarting)
		case "stop":
			return format.Text(format.MsgStopping)
		default:
			return format.Text(format.MsgChanging)
		}
	case server.AlreadyRunning:
		return format.Text(format.MsgAlreadyRunning)
	case server.AlreadyStopped:
		return format.Text(format.MsgAlreadyStopped)
	case server.Busy:
		return format.Text(format.MsgBusy)
	case server.Maintenance:
		return format.Maintenance(r.cfg.Prefix, "server "+sub)
	case server.UnknownGame:
		return format.UnknownGame(res.Game)
	case server.SameGame:
		return format.SameGame(res.Game)
	case server.NotRunning:
		return format.Text(format.MsgNotRunning)
	default:
		return format.UnexpectedState(res.State)
	}
}

func handled(reply format.Reply) Outcome {
	return Outcome{Kind: Handled, Reply: reply}
}
