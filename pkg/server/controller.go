// Package server orchestrates the game server lifecycle on the instance:
// the EC2 transition, the per-game shell commands, and the current game.
package server

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bombom/pumpkin/pkg/cloud"
	"github.com/bombom/pumpkin/pkg/config"
	"github.com/bombom/pumpkin/pkg/guard"
)

// Instances is the subset of the cloud adapter the controller needs.
type Instances interface {
	DescribeInstance(ctx context.Context, id string) (cloud.InstanceStatus, error)
	StartInstance(ctx context.Context, id string) error
	StopInstance(ctx context.Context, id string) error
	WaitForState(ctx context.Context, id string, target cloud.State, interval time.Duration) (cloud.InstanceStatus, error)
}

// Commands runs shell commands on the instance.
type Commands interface {
	Run(ctx context.Context, commands []string) (cloud.Invocation, error)
	RunUntilSuccess(ctx context.Context, commands []string) (cloud.Invocation, error)
}

// Outcome is the immediate result of a lifecycle request.
type Outcome int

const (
	Accepted Outcome = iota
	AlreadyRunning
	AlreadyStopped
	Busy
	Maintenance
	UnknownGame
	SameGame
	NotRunning
	UnexpectedState
)

// Result is returned synchronously by Start, Stop and Change.
type Result struct {
	Outcome Outcome
	Game    string
	State   cloud.State
}

// EventKind identifies a follow-up posted once a transition completes.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStopped
	EventChanged
	EventFailed
)

// Event is delivered to a FollowUp after the background part of a transition.
type Event struct {
	Kind        EventKind
	Game        string
	Address     string
	Unreachable bool
	Err         error
}

// FollowUp receives the completion event of an accepted transition.
type FollowUp func(Event)

// Snapshot is the data behind a status reply.
type Snapshot struct {
	Instance cloud.InstanceStatus
	Enabled  bool
	Game     string
	Port     int
	Players  int
	Ping     string
}

// Options configures a Controller.
type Options struct {
	InstanceID      string
	Games           config.Games
	ConvergeTimeout time.Duration
	PollInterval    time.Duration
	Logger          *log.Logger
}

// Controller owns the current game and serializes transitions on the instance.
type Controller struct {
	instances Instances
	commands  Commands
	guard     *guard.Guard
	opts      Options
	locks     *instanceLocks
	logger    *log.Logger

	mu           sync.Mutex
	currentGame  string
	seenPlaying  bool
	onGameChange func(display string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Controller. Close must be called to stop background work.
func New(instances Instances, commands Commands, g *guard.Guard, opts Options) *Controller {
	if opts.ConvergeTimeout <= 0 {
		opts.ConvergeTimeout = config.DefaultConvergeTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = config.DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		instances: instances,
		commands:  commands,
		guard:     g,
		opts:      opts,
		locks:     newInstanceLocks(),
		logger:    opts.Logger.With("instance", opts.InstanceID),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnGameChange registers a hook called with the display name of the new
// current game, or "" when none is running.
func (c *Controller) OnGameChange(fn func(display string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onGameChange = fn
}

// Guard returns the maintenance gate shared with the router.
func (c *Controller) Guard() *guard.Guard {
	return c.guard
}

// CurrentGame returns the key and definition of the running game.
func (c *Controller) CurrentGame() (string, config.Game, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentGame == "" {
		return "", config.Game{}, false
	}
	return c.currentGame, c.opts.Games[c.currentGame], true
}

// Busy reports whether a transition is in progress.
func (c *Controller) Busy() bool {
	return c.locks.Busy(c.opts.InstanceID)
}

// Close cancels in-flight background transitions and waits for them.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

// Start boots the instance and then the requested game on it.
func (c *Controller) Start(ctx context.Context, game string, followUp FollowUp) (Result, error) {
	if !c.guard.Enabled() {
		return Result{Outcome: Maintenance}, nil
	}
	key, g, ok := c.opts.Games.Lookup(game)
	if !ok {
		return Result{Outcome: UnknownGame, Game: game}, nil
	}
	if !c.locks.TryLock(c.opts.InstanceID) {
		return Result{Outcome: Busy}, nil
	}
	handedOff := false
	defer func() {
		if !handedOff {
			c.locks.Unlock(c.opts.InstanceID)
		}
	}()

	status, err := c.instances.DescribeInstance(ctx, c.opts.InstanceID)
	if err != nil {
		return Result{}, err
	}
	switch status.State {
	case cloud.StateRunning:
		c.warnIfNoGame()
		return Result{Outcome: AlreadyRunning, State: status.State}, nil
	case cloud.StateStopped:
	default:
		return Result{Outcome: UnexpectedState, State: status.State}, nil
	}

	if err := c.instances.StartInstance(ctx, c.opts.InstanceID); err != nil {
		return Result{}, err
	}
	c.logger.Info("instance start requested", "game", key)

	handedOff = true
	c.background(func(bg context.Context) {
		c.finishStart(bg, key, g, followUp)
	})
	return Result{Outcome: Accepted, Game: g.DisplayName}, nil
}

func (c *Controller) finishStart(bg context.Context, key string, g config.Game, followUp FollowUp) {
	ctx, cancel := context.WithTimeout(bg, c.opts.ConvergeTimeout)
	defer cancel()

	status, err := c.instances.WaitForState(ctx, c.opts.InstanceID, cloud.StateRunning, c.opts.PollInterval)
	if err != nil {
		c.fail(followUp, "waiting for instance to run", err)
		return
	}

	c.runGameCommands(ctx, "start", g.Commands.Start)
	c.setGame(key)

	ev := Event{Kind: EventStarted, Game: g.DisplayName, Address: address(status, g)}
	ev.Unreachable = !c.reachable(bg, g)
	notify(followUp, ev)
}

// Stop stops the current game and then the instance.
func (c *Controller) Stop(ctx context.Context, followUp FollowUp) (Result, error) {
	if !c.guard.Enabled() {
		return Result{Outcome: Maintenance}, nil
	}
	if !c.locks.TryLock(c.opts.InstanceID) {
		return Result{Outcome: Busy}, nil
	}
	handedOff := false
	defer func() {
		if !handedOff {
			c.locks.Unlock(c.opts.InstanceID)
		}
	}()

	status, err := c.instances.DescribeInstance(ctx, c.opts.InstanceID)
	if err != nil {
		return Result{}, err
	}
	switch status.State {
	case cloud.StateStopped:
		return Result{Outcome: AlreadyStopped, State: status.State}, nil
	case cloud.StateRunning:
	default:
		return Result{Outcome: UnexpectedState, State: status.State}, nil
	}

	c.warnIfNoGame()
	key, g, hasGame := c.CurrentGame()

	handedOff = true
	c.background(func(bg context.Context) {
		ctx, cancel := context.WithTimeout(bg, c.opts.ConvergeTimeout)
		defer cancel()

		if hasGame {
			c.runGameCommands(ctx, "stop", g.Commands.Stop)
		}
		if err := c.instances.StopInstance(ctx, c.opts.InstanceID); err != nil {
			c.fail(followUp, "stopping instance", err)
			return
		}
		c.logger.Info("instance stop requested", "game", key)
		if _, err := c.instances.WaitForState(ctx, c.opts.InstanceID, cloud.StateStopped, c.opts.PollInterval); err != nil {
			c.fail(followUp, "waiting for instance to stop", err)
			return
		}
		c.setGame("")
		notify(followUp, Event{Kind: EventStopped, Game: g.DisplayName})
	})
	return Result{Outcome: Accepted, Game: g.DisplayName}, nil
}

// Change swaps the game running on an already running instance.
func (c *Controller) Change(ctx context.Context, game string, followUp FollowUp) (Result, error) {
	if !c.guard.Enabled() {
		return Result{Outcome: Maintenance}, nil
	}
	key, g, ok := c.opts.Games.Lookup(game)
	if !ok {
		return Result{Outcome: UnknownGame, Game: game}, nil
	}
	if current, _, _ := c.CurrentGame(); current == key {
		return Result{Outcome: SameGame, Game: g.DisplayName}, nil
	}
	if !c.locks.TryLock(c.opts.InstanceID) {
		return Result{Outcome: Busy}, nil
	}
	handedOff := false
	defer func() {
		if !handedOff {
			c.locks.Unlock(c.opts.InstanceID)
		}
	}()

	status, err := c.instances.DescribeInstance(ctx, c.opts.InstanceID)
	if err != nil {
		return Result{}, err
	}
	if status.State != cloud.StateRunning {
		return Result{Outcome: NotRunning, State: status.State}, nil
	}
	c.warnIfNoGame()
	oldKey, old, hadGame := c.CurrentGame()

	handedOff = true
	c.background(func(bg context.Context) {
		ctx, cancel := context.WithTimeout(bg, c.opts.ConvergeTimeout)
		defer cancel()

		if hadGame {
			c.runGameCommands(ctx, "stop", old.Commands.Stop)
			c.setGame("")
		}
		c.runGameCommands(ctx, "start", g.Commands.Start)
		c.setGame(key)
		c.logger.Info("game changed", "from", oldKey, "to", key)

		ev := Event{Kind: EventChanged, Game: g.DisplayName, Address: address(status, g)}
		ev.Unreachable = !c.reachable(bg, g)
		notify(followUp, ev)
	})
	return Result{Outcome: Accepted, Game: g.DisplayName}, nil
}

// Status describes the instance. With detail it also pings the game.
// Status ignores the guard and never takes the transition lock.
func (c *Controller) Status(ctx context.Context, detail bool) (Snapshot, error) {
	status, err := c.instances.DescribeInstance(ctx, c.opts.InstanceID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Instance: status, Enabled: c.guard.Enabled()}

	_, g, ok := c.CurrentGame()
	if !ok || status.State != cloud.StateRunning {
		return snap, nil
	}
	snap.Game = g.DisplayName
	snap.Port = g.Port

	if len(g.Commands.PlayerCount) > 0 {
		inv, err := c.commands.Run(ctx, g.Commands.PlayerCount)
		if err == nil && inv.Succeeded() {
			snap.Players, _ = strconv.Atoi(strings.TrimSpace(inv.Output))
		}
	}
	if detail && len(g.Commands.Ping) > 0 {
		snap.Ping = "Connection failed"
		if inv, err := c.commands.Run(ctx, g.Commands.Ping); err == nil && inv.Succeeded() {
			snap.Ping = inv.Output
		}
	}
	return snap, nil
}

// Reconcile clears the current game if the instance was stopped outside the
// bot. It does nothing while a transition is running.
func (c *Controller) Reconcile(ctx context.Context) (cloud.InstanceStatus, error) {
	if c.Busy() {
		return cloud.InstanceStatus{}, nil
	}
	status, err := c.instances.DescribeInstance(ctx, c.opts.InstanceID)
	if err != nil {
		return cloud.InstanceStatus{}, err
	}
	if key, _, ok := c.CurrentGame(); ok && status.State != cloud.StateRunning {
		c.logger.Warn("instance is no longer running, clearing current game", "game", key, "state", status.State)
		c.setGame("")
	}
	return status, nil
}

// NeedsReminder decides whether to nag about stopping an idle server. It
// returns true once after the last player leaves; nothing is sent until
// someone has been seen playing the current game.
func (c *Controller) NeedsReminder(playing bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentGame == "" {
		return false
	}
	if playing {
		c.seenPlaying = true
		return false
	}
	if !c.seenPlaying || !c.guard.Enabled() || c.Busy() {
		return false
	}
	c.seenPlaying = false
	return true
}

func (c *Controller) setGame(key string) {
	c.mu.Lock()
	c.currentGame = key
	c.seenPlaying = false
	hook := c.onGameChange
	display := c.opts.Games[key].DisplayName
	c.mu.Unlock()

	if hook != nil {
		hook(display)
	}
}

func (c *Controller) warnIfNoGame() {
	if _, _, ok := c.CurrentGame(); !ok {
		c.logger.Warn("instance is running, but no game server is running on it")
	}
}

func (c *Controller) runGameCommands(ctx context.Context, what string, commands []string) {
	inv, err := c.commands.Run(ctx, commands)
	if err != nil {
		c.logger.Error("game command failed", "what", what, "err", err)
		return
	}
	if !inv.Succeeded() {
		c.logger.Warn("game command did not succeed", "what", what, "status", inv.Status, "stderr", inv.Stderr)
	}
}

func (c *Controller) reachable(ctx context.Context, g config.Game) bool {
	if len(g.Commands.Ping) == 0 {
		return true
	}
	if _, err := c.commands.RunUntilSuccess(ctx, g.Commands.Ping); err != nil {
		c.logger.Warn("game server did not answer", "err", err)
		return false
	}
	return true
}

func (c *Controller) fail(followUp FollowUp, what string, err error) {
	c.logger.Error("transition failed", "step", what, "err", err)
	notify(followUp, Event{Kind: EventFailed, Err: err})
}

// background runs fn holding the instance lock acquired by the caller.
func (c *Controller) background(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.locks.Unlock(c.opts.InstanceID)
		fn(c.ctx)
	}()
}

func notify(followUp FollowUp, ev Event) {
	if followUp != nil {
		followUp(ev)
	}
}

func address(status cloud.InstanceStatus, g config.Game) string {
	return fmt.Sprintf("%s:%d", status.PublicIP, g.Port)
}
