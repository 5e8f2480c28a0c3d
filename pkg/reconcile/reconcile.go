// Package reconcile periodically re-syncs the bot's view of the game server
// with the instance and reminds players to stop an idle server.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron"

	"github.com/bombom/pumpkin/pkg/cloud"
	"github.com/bombom/pumpkin/pkg/config"
	"github.com/bombom/pumpkin/pkg/format"
)

// Controller is the part of the server controller the scheduler drives.
type Controller interface {
	Reconcile(ctx context.Context) (cloud.InstanceStatus, error)
	CurrentGame() (string, config.Game, bool)
	NeedsReminder(playing bool) bool
}

// Chat is where presence is read and reminders are posted.
type Chat interface {
	PlayersOf(game string) int
	Announce(reply format.Reply) error
}

// Scheduler runs the reconcile job on a cron schedule.
type Scheduler struct {
	ctrl    Controller
	chat    Chat
	prefix  string
	timeout time.Duration
	logger  *log.Logger

	mu     sync.Mutex
	runner *cron.Cron
}

func New(ctrl Controller, chat Chat, cfg *config.BotConfig, logger *log.Logger) *Scheduler {
	return &Scheduler{
		ctrl:    ctrl,
		chat:    chat,
		prefix:  cfg.Prefix,
		timeout: cfg.CloudTimeout,
		logger:  logger.With("component", "reconcile"),
	}
}

// Start schedules the job. Calling Start again replaces the schedule.
func (s *Scheduler) Start(schedule string, loc *time.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner != nil {
		s.runner.Stop()
	}
	if loc == nil {
		loc = time.UTC
	}
	s.runner = cron.NewWithLocation(loc)
	if err := s.runner.AddFunc(schedule, s.Run); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	s.logger.Info("scheduling reconcile", "schedule", schedule, "tz", loc)
	s.runner.Start()
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner != nil {
		s.runner.Stop()
		s.runner = nil
	}
}

// Run performs one reconcile pass.
func (s *Scheduler) Run() {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	status, err := s.ctrl.Reconcile(ctx)
	if err != nil {
		s.logger.Error("reconcile failed", "err", err)
		return
	}
	s.logger.Debug("reconciled", "state", status.State)

	_, game, ok := s.ctrl.CurrentGame()
	if !ok {
		return
	}
	players := s.chat.PlayersOf(game.DisplayName)
	if !s.ctrl.NeedsReminder(players > 0) {
		return
	}
	s.logger.Info("sending idle reminder", "game", game.DisplayName)
	if err := s.chat.Announce(format.Reminder(s.prefix, game.DisplayName)); err != nil {
		s.logger.Warn("failed to send reminder", "err", err)
	}
}
