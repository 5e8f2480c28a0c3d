// Package config loads the bot settings from the environment and the game
// definition file. The result is validated once at startup and never mutated.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// Error is returned for any missing or invalid setting. It is always fatal.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Env holds the values read from environment variables.
type Env struct {
	DiscordToken   string        `env:"DISCORD_TOKEN,required,notEmpty"`
	AccessKey      string        `env:"ACCESS_KEY,required,notEmpty"`
	SecretKey      string        `env:"SECRET_KEY,required,notEmpty"`
	Region         string        `env:"EC2_REGION,required,notEmpty"`
	InstanceID     string        `env:"INSTANCE_ID,required,notEmpty"`
	ConfigPath     string        `env:"CONFIG_PATH" envDefault:"config.json"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	CloudTimeout   time.Duration `env:"CLOUD_TIMEOUT" envDefault:"10s"`
	APIEnabled     bool          `env:"API_ENABLED" envDefault:"false"`
	APIPort        string        `env:"API_PORT" envDefault:"3001"`
	APIBearerToken string        `env:"API_BEARER_TOKEN"`
}

// Commands are the shell commands run on the instance for a game.
type Commands struct {
	Start       []string `json:"start" yaml:"start"`
	Stop        []string `json:"stop" yaml:"stop"`
	Ping        []string `json:"ping" yaml:"ping"`
	PlayerCount []string `json:"player_count" yaml:"player_count"`
}

// Game describes one game server that can run on the instance.
type Game struct {
	DisplayName string   `json:"display_name" yaml:"display_name"`
	Port        int      `json:"port" yaml:"port"`
	Commands    Commands `json:"commands" yaml:"commands"`
}

// Games maps a normalised game key to its definition.
type Games map[string]Game

// Key normalises a game name the way Games is keyed.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Lookup finds a game by name, ignoring case and surrounding space.
func (g Games) Lookup(name string) (string, Game, bool) {
	key := Key(name)
	game, ok := g[key]
	return key, game, ok
}

// Slap settings.
type Slap struct {
	// RedirectChance is the probability of slapping someone else. The
	// default is a placeholder until the group settles on a value.
	RedirectChance *float64 `json:"redirect_chance" yaml:"redirect_chance"`
}

// Server settings.
type Server struct {
	AdminRole         string          `json:"admin_role" yaml:"admin_role"`
	UserRole          string          `json:"user_role" yaml:"user_role"`
	CommandChannel    string          `json:"command_channel" yaml:"command_channel"`
	Timezone          string          `json:"timezone" yaml:"timezone"`
	ReconcileSchedule string          `json:"reconcile_schedule" yaml:"reconcile_schedule"`
	ConvergeTimeout   string          `json:"converge_timeout" yaml:"converge_timeout"`
	PollInterval      string          `json:"poll_interval" yaml:"poll_interval"`
	Games             map[string]Game `json:"games" yaml:"games"`
}

// File mirrors the shape of config.json.
type File struct {
	Prefix  string `json:"prefix" yaml:"prefix"`
	OwnerID string `json:"owner_id" yaml:"owner_id"`
	Color   string `json:"color" yaml:"color"`
	Slap    Slap   `json:"slap" yaml:"slap"`
	Server  Server `json:"server" yaml:"server"`
}

// BotConfig is the validated, typed configuration.
type BotConfig struct {
	Env

	Prefix            string
	OwnerID           string
	Color             int
	SlapChance        float64
	AdminRole         string
	UserRole          string
	CommandChannel    string
	Location          *time.Location
	ReconcileSchedule string
	ConvergeTimeout   time.Duration
	PollInterval      time.Duration
	Games             Games
}

const (
	DefaultPrefix            = "."
	DefaultColor             = "0xE67E22"
	DefaultSlapChance        = 0.01
	DefaultReconcileSchedule = "@every 5m"
	DefaultConvergeTimeout   = 5 * time.Minute
	DefaultPollInterval      = 3 * time.Second
)

// Load reads the environment and the config file named by CONFIG_PATH.
func Load() (*BotConfig, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, &Error{Field: "environment", Reason: err.Error()}
	}

	f, err := ReadFile(e.ConfigPath)
	if err != nil {
		return nil, err
	}

	return Build(e, f)
}

// ReadFile decodes a JSON or YAML config file, chosen by extension.
func ReadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Field: "file", Reason: fmt.Sprintf("read %q: %v", path, err)}
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, &Error{Field: "file", Reason: fmt.Sprintf("parse yaml %q: %v", path, err)}
		}
	default:
		if err := sonic.Unmarshal(b, &f); err != nil {
			return nil, &Error{Field: "file", Reason: fmt.Sprintf("parse json %q: %v", path, err)}
		}
	}
	return &f, nil
}

// Build applies defaults and validates the combination of env and file.
func Build(e Env, f *File) (*BotConfig, error) {
	if f == nil {
		return nil, &Error{Field: "file", Reason: "missing"}
	}
	for _, v := range []struct{ name, value string }{
		{"DISCORD_TOKEN", e.DiscordToken},
		{"ACCESS_KEY", e.AccessKey},
		{"SECRET_KEY", e.SecretKey},
		{"EC2_REGION", e.Region},
		{"INSTANCE_ID", e.InstanceID},
	} {
		if strings.TrimSpace(v.value) == "" {
			return nil, &Error{Field: v.name, Reason: "required"}
		}
	}
	if e.APIEnabled && strings.TrimSpace(e.APIBearerToken) == "" {
		return nil, &Error{Field: "API_BEARER_TOKEN", Reason: "required when API_ENABLED=true"}
	}
	if e.CloudTimeout <= 0 {
		return nil, &Error{Field: "CLOUD_TIMEOUT", Reason: "must be positive"}
	}

	cfg := &BotConfig{
		Env:            e,
		Prefix:         f.Prefix,
		OwnerID:        strings.TrimSpace(f.OwnerID),
		AdminRole:      strings.TrimSpace(f.Server.AdminRole),
		UserRole:       strings.TrimSpace(f.Server.UserRole),
		CommandChannel: strings.TrimPrefix(strings.TrimSpace(f.Server.CommandChannel), "#"),
		SlapChance:     DefaultSlapChance,
	}

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if strings.ContainsAny(cfg.Prefix, " \t\n") {
		return nil, &Error{Field: "prefix", Reason: "must not contain whitespace"}
	}

	color := f.Color
	if color == "" {
		color = DefaultColor
	}
	c, err := strconv.ParseInt(color, 0, 32)
	if err != nil || c < 0 || c > 0xFFFFFF {
		return nil, &Error{Field: "color", Reason: fmt.Sprintf("invalid colour %q", color)}
	}
	cfg.Color = int(c)

	for _, r := range cfg.OwnerID {
		if r < '0' || r > '9' {
			return nil, &Error{Field: "owner_id", Reason: fmt.Sprintf("must be a Discord user id (got %q)", cfg.OwnerID)}
		}
	}

	if f.Slap.RedirectChance != nil {
		cfg.SlapChance = *f.Slap.RedirectChance
	}
	if cfg.SlapChance < 0 || cfg.SlapChance > 1 {
		return nil, &Error{Field: "slap.redirect_chance", Reason: "must be between 0 and 1"}
	}

	if cfg.AdminRole == "" {
		return nil, &Error{Field: "server.admin_role", Reason: "required"}
	}
	if cfg.UserRole == "" {
		return nil, &Error{Field: "server.user_role", Reason: "required"}
	}

	tz := f.Server.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, &Error{Field: "server.timezone", Reason: err.Error()}
	}

	cfg.ReconcileSchedule = f.Server.ReconcileSchedule
	if cfg.ReconcileSchedule == "" {
		cfg.ReconcileSchedule = DefaultReconcileSchedule
	}
	if _, err := cron.Parse(cfg.ReconcileSchedule); err != nil {
		return nil, &Error{Field: "server.reconcile_schedule", Reason: err.Error()}
	}

	if cfg.ConvergeTimeout, err = parseDuration(f.Server.ConvergeTimeout, DefaultConvergeTimeout); err != nil {
		return nil, &Error{Field: "server.converge_timeout", Reason: err.Error()}
	}
	if cfg.PollInterval, err = parseDuration(f.Server.PollInterval, DefaultPollInterval); err != nil {
		return nil, &Error{Field: "server.poll_interval", Reason: err.Error()}
	}

	if len(f.Server.Games) == 0 {
		return nil, &Error{Field: "server.games", Reason: "at least one game is required"}
	}
	cfg.Games = make(Games, len(f.Server.Games))
	for name, g := range f.Server.Games {
		key := Key(name)
		if key == "" {
			return nil, &Error{Field: "server.games", Reason: "game name cannot be empty"}
		}
		if _, dup := cfg.Games[key]; dup {
			return nil, &Error{Field: "server.games", Reason: fmt.Sprintf("duplicate game %q", name)}
		}
		if g.Port < 1 || g.Port > 65535 {
			return nil, &Error{Field: "server.games." + name + ".port", Reason: fmt.Sprintf("must be between 1 and 65535 (got %d)", g.Port)}
		}
		if len(g.Commands.Start) == 0 {
			return nil, &Error{Field: "server.games." + name + ".commands.start", Reason: "required"}
		}
		if g.DisplayName == "" {
			g.DisplayName = name
		}
		cfg.Games[key] = g
	}

	return cfg, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

// GameNames returns the configured game names in sorted order.
func (c *BotConfig) GameNames() []string {
	names := maps.Keys(c.Games)
	slices.Sort(names)
	return names
}
