package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/bombom/pumpkin/api"
	"github.com/bombom/pumpkin/pkg/cloud"
	"github.com/bombom/pumpkin/pkg/config"
	"github.com/bombom/pumpkin/pkg/discord"
	"github.com/bombom/pumpkin/pkg/guard"
	"github.com/bombom/pumpkin/pkg/reconcile"
	"github.com/bombom/pumpkin/pkg/router"
	"github.com/bombom/pumpkin/pkg/server"
	"github.com/bombom/pumpkin/pkg/slap"
)

// ================= FLAGS =================

type flags struct {
	envFile    string
	configPath string
	logFile    string
	logLevel   string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	set := flag.NewFlagSet("pumpkin", flag.ContinueOnError)
	set.StringVarP(&f.envFile, "env-file", "e", ".env", "dotenv file to load before reading the environment")
	set.StringVarP(&f.configPath, "config", "c", "", "config file (overrides CONFIG_PATH)")
	set.StringVarP(&f.logFile, "log-file", "l", "", "append logs to this file instead of stderr")
	set.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	if err := set.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

// loadEnv loads a dotenv file. A missing file is not an error; variables
// already set in the environment win.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ================= LOGGING =================

func newLogger(w io.Writer, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           lvl,
		Prefix:          "pumpkin",
	}), nil
}

func openLogOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// ================= MAIN =================

func main() {
	os.Exit(start(os.Args[1:]))
}

// start returns the process exit code so deferred cleanup runs before exit.
func start(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		log.Error("Invalid arguments", "err", err)
		return 2
	}
	if err := loadEnv(f.envFile); err != nil {
		log.Error("Environment error", "err", err)
		return 1
	}
	if f.configPath != "" {
		if err := os.Setenv("CONFIG_PATH", f.configPath); err != nil {
			log.Error("Environment error", "err", err)
			return 1
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("Configuration error", "err", err)
		return 1
	}

	level := cfg.LogLevel
	if f.logLevel != "" {
		level = f.logLevel
	}
	out, closeLog, err := openLogOutput(f.logFile)
	if err != nil {
		log.Error("Logging error", "err", err)
		return 1
	}
	defer closeLog()
	logger, err := newLogger(out, level)
	if err != nil {
		log.Error("Logging error", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Bot stopped with error", "err", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *config.BotConfig, logger *log.Logger) error {
	sess, err := cloud.NewSession(cfg.Region, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return err
	}
	instances := cloud.NewAdapter(ec2.New(sess), cfg.Region, cfg.CloudTimeout, logger)
	runner := cloud.NewCommandRunner(ssm.New(sess), cfg.InstanceID, cfg.CloudTimeout, cloud.DefaultRetryPolicy, logger)

	ctrl := server.New(instances, runner, guard.New(), server.Options{
		InstanceID:      cfg.InstanceID,
		Games:           cfg.Games,
		ConvergeTimeout: cfg.ConvergeTimeout,
		PollInterval:    cfg.PollInterval,
		Logger:          logger,
	})
	defer ctrl.Close()

	rt := router.New(cfg, ctrl, slap.New(cfg.SlapChance, nil), logger)

	bot, err := discord.NewBot(cfg, rt, logger)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	ctrl.OnGameChange(bot.SetGame)
	rt.OnError(bot.NotifyOwner)

	if err := bot.Start(); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}
	defer func() {
		if err := bot.Close(); err != nil {
			logger.Error("Error closing Discord session", "err", err)
		}
	}()

	sched := reconcile.New(ctrl, bot, cfg, logger)
	if err := sched.Start(cfg.ReconcileSchedule, cfg.Location); err != nil {
		return err
	}
	defer sched.Stop()

	var apiServer *api.Server
	if cfg.APIEnabled {
		apiServer = api.NewServer(ctrl, cfg.APIPort, cfg.APIBearerToken, logger)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("API server error", "err", err)
			}
		}()
	}

	logger.Info("Bot running", "instance", cfg.InstanceID, "games", cfg.GameNames())
	<-ctx.Done()
	logger.Info("Shutting down...")

	if apiServer != nil {
		apiServer.Stop()
	}
	return nil
}
