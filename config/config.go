package config

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/glebarez/sqlite"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hupe1980/groupmesh/agent"
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/groupchat"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/model"
	"github.com/hupe1980/groupmesh/orchestrator"
	"github.com/hupe1980/groupmesh/selector"
	"github.com/hupe1980/groupmesh/session"
)

// Duration accepts Go duration strings such as "30s" in either format.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// File is the root of a configuration file.
type File struct {
	Chat         ChatConfig         `yaml:"chat" toml:"chat"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" toml:"orchestrator"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Archive      ArchiveConfig      `yaml:"archive" toml:"archive"`
	Agents       []AgentConfig      `yaml:"agents" toml:"agents"`
}

// ChatConfig configures group chats and their speaker selection.
type ChatConfig struct {
	MaxRound        int                 `yaml:"max_round" toml:"max_round"`
	Policy          string              `yaml:"policy" toml:"policy"`
	AllowRepeat     bool                `yaml:"allow_repeat" toml:"allow_repeat"`
	Transitions     map[string][]string `yaml:"transitions" toml:"transitions"`
	Seed            uint64              `yaml:"seed" toml:"seed"`
	MaxAttempts     int                 `yaml:"max_attempts" toml:"max_attempts"`
	MaxReplyRetries int                 `yaml:"max_reply_retries" toml:"max_reply_retries"`
	ReplyTimeout    Duration            `yaml:"reply_timeout" toml:"reply_timeout"`
	FirstSpeaker    string              `yaml:"first_speaker" toml:"first_speaker"`
}

// OrchestratorConfig configures task orchestration.
type OrchestratorConfig struct {
	Name            string   `yaml:"name" toml:"name"`
	TurnBudget      int      `yaml:"turn_budget" toml:"turn_budget"`
	StallThreshold  int      `yaml:"stall_threshold" toml:"stall_threshold"`
	MaxReplans      *int     `yaml:"max_replans" toml:"max_replans"`
	ResetOnProgress bool     `yaml:"reset_on_progress" toml:"reset_on_progress"`
	FinalAnswer     bool     `yaml:"final_answer" toml:"final_answer"`
	ReplyTimeout    Duration `yaml:"reply_timeout" toml:"reply_timeout"`
}

// LoggingConfig selects level and format of the slog backed logger.
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level"`
	Format    string `yaml:"format" toml:"format"`
	AddSource bool   `yaml:"add_source" toml:"add_source"`
}

// ArchiveConfig selects the transcript store.
type ArchiveConfig struct {
	// Backend is memory (default), redis or sql.
	Backend   string   `yaml:"backend" toml:"backend"`
	URL       string   `yaml:"url" toml:"url"`
	KeyPrefix string   `yaml:"key_prefix" toml:"key_prefix"`
	TTL       Duration `yaml:"ttl" toml:"ttl"`
	// DSN is a SQLite data source for the sql backend.
	DSN string `yaml:"dsn" toml:"dsn"`
}

// AgentConfig describes one model backed agent.
type AgentConfig struct {
	Name                  string `yaml:"name" toml:"name"`
	Description           string `yaml:"description" toml:"description"`
	Instruction           string `yaml:"instruction" toml:"instruction"`
	MaxConsecutiveReplies int    `yaml:"max_consecutive_replies" toml:"max_consecutive_replies"`
	TerminationMarker     string `yaml:"termination_marker" toml:"termination_marker"`
}

// Load reads path as YAML (.yaml, .yml) or TOML (.toml) and validates it.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return Parse(bytes.NewReader(data), "yaml")
	case ".toml":
		return Parse(bytes.NewReader(data), "toml")
	default:
		return nil, fmt.Errorf("load config: unsupported file extension %q", ext)
	}
}

// Parse decodes a config in the given format ("yaml" or "toml"). Unknown
// keys are rejected.
func Parse(r io.Reader, format string) (*File, error) {
	var f File
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && err != io.EOF {
			return nil, fmt.Errorf("load config: %w", err)
		}
	case "toml":
		meta, err := toml.NewDecoder(r).Decode(&f)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("load config: unsupported format %q", format)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate reports the first invalid setting as a *core.ConfigError.
func (f *File) Validate() error {
	if f.Chat.MaxRound < 0 {
		return core.NewConfigError("config", "chat.max_round must not be negative")
	}
	if _, err := selector.ParsePolicy(f.Chat.Policy); err != nil {
		return core.NewConfigError("config", "chat.policy: %v", err)
	}
	if f.Chat.MaxReplyRetries < 0 {
		return core.NewConfigError("config", "chat.max_reply_retries must not be negative")
	}
	if f.Orchestrator.TurnBudget < 0 || f.Orchestrator.StallThreshold < 0 {
		return core.NewConfigError("config", "orchestrator budgets must not be negative")
	}
	if f.Orchestrator.MaxReplans != nil && *f.Orchestrator.MaxReplans < 0 {
		return core.NewConfigError("config", "orchestrator.max_replans must not be negative")
	}
	if _, err := logging.ParseLevel(f.Logging.Level); err != nil {
		return core.NewConfigError("config", "logging.level: %v", err)
	}
	switch f.Logging.Format {
	case "", "json", "text":
	default:
		return core.NewConfigError("config", "logging.format must be json or text, got %q", f.Logging.Format)
	}
	switch f.Archive.Backend {
	case "", "memory":
	case "redis":
		if f.Archive.URL == "" {
			return core.NewConfigError("config", "archive.url is required for the redis backend")
		}
	case "sql":
		if f.Archive.DSN == "" {
			return core.NewConfigError("config", "archive.dsn is required for the sql backend")
		}
	default:
		return core.NewConfigError("config", "unknown archive.backend %q", f.Archive.Backend)
	}

	names := make(map[string]bool, len(f.Agents))
	for i, a := range f.Agents {
		if strings.TrimSpace(a.Name) == "" {
			return core.NewConfigError("config", "agents[%d].name is empty", i)
		}
		if names[a.Name] {
			return core.NewConfigError("config", "duplicate agent name %q", a.Name)
		}
		names[a.Name] = true
	}
	if len(f.Agents) > 0 {
		roster := make([]string, 0, len(f.Agents))
		for _, a := range f.Agents {
			roster = append(roster, a.Name)
		}
		if f.Chat.Transitions != nil {
			if err := selector.Transitions(f.Chat.Transitions).Validate(roster); err != nil {
				return core.NewConfigError("config", "chat.transitions: %v", err)
			}
		}
		if f.Chat.FirstSpeaker != "" && !names[f.Chat.FirstSpeaker] {
			return core.NewConfigError("config", "chat.first_speaker %q is not an agent", f.Chat.FirstSpeaker)
		}
	}
	return nil
}

// SelectorOptions returns the configured policy and selector options. The
// oracle and human input are wired by the caller since files cannot carry
// them.
func (f *File) SelectorOptions(oracle model.Model, human core.HumanInput) (selector.Policy, func(o *selector.Options), error) {
	policy, err := selector.ParsePolicy(f.Chat.Policy)
	if err != nil {
		return policy, nil, core.NewConfigError("config", "chat.policy: %v", err)
	}
	c := f.Chat
	return policy, func(o *selector.Options) {
		if c.Transitions != nil {
			o.Transitions = selector.Transitions(c.Transitions)
		}
		o.AllowRepeat = c.AllowRepeat
		o.Seed = c.Seed
		if c.MaxAttempts > 0 {
			o.MaxAttempts = c.MaxAttempts
		}
		o.Oracle = oracle
		o.Human = human
	}, nil
}

// ChatOptions applies the chat section to groupchat options.
func (f *File) ChatOptions() func(o *groupchat.Options) {
	c := f.Chat
	return func(o *groupchat.Options) {
		if c.MaxRound > 0 {
			o.MaxRound = c.MaxRound
		}
		if c.MaxReplyRetries > 0 {
			o.MaxReplyRetries = c.MaxReplyRetries
		}
		if c.ReplyTimeout > 0 {
			o.ReplyTimeout = time.Duration(c.ReplyTimeout)
		}
		if c.FirstSpeaker != "" {
			o.FirstSpeaker = c.FirstSpeaker
		}
	}
}

// OrchestratorOptions applies the orchestrator section.
func (f *File) OrchestratorOptions() func(o *orchestrator.Options) {
	c := f.Orchestrator
	return func(o *orchestrator.Options) {
		if c.Name != "" {
			o.Name = c.Name
		}
		if c.TurnBudget > 0 {
			o.TurnBudget = c.TurnBudget
		}
		if c.StallThreshold > 0 {
			o.StallThreshold = c.StallThreshold
		}
		if c.MaxReplans != nil {
			o.MaxReplans = *c.MaxReplans
		}
		o.ResetOnProgress = c.ResetOnProgress
		o.FinalAnswer = c.FinalAnswer
		if c.ReplyTimeout > 0 {
			o.ReplyTimeout = time.Duration(c.ReplyTimeout)
		}
	}
}

// LoggerConfig converts the logging section. Output goes to w.
func (f *File) LoggerConfig(w io.Writer) (*logging.LoggerConfig, error) {
	level, err := logging.ParseLevel(f.Logging.Level)
	if err != nil {
		return nil, core.NewConfigError("config", "logging.level: %v", err)
	}
	cfg := logging.DefaultLoggerConfig()
	cfg.Level = level
	if f.Logging.Format != "" {
		cfg.Format = f.Logging.Format
	}
	cfg.AddSource = f.Logging.AddSource
	if w != nil {
		cfg.Output = w
	}
	return cfg, nil
}

// ModelAgents builds one agent.ModelAgent per agents entry, all backed by llm.
func (f *File) ModelAgents(llm model.Model, log logging.Logger) ([]core.Agent, error) {
	if len(f.Agents) == 0 {
		return nil, core.NewConfigError("config", "no agents configured")
	}
	out := make([]core.Agent, 0, len(f.Agents))
	for _, a := range f.Agents {
		out = append(out, agent.NewModelAgent(a.Name, llm, func(o *agent.ModelAgentOptions) {
			if a.Description != "" {
				o.Description = a.Description
			}
			if a.Instruction != "" {
				o.Instruction = agent.NewInstructionFromText(a.Instruction)
			}
			o.MaxConsecutiveReplies = a.MaxConsecutiveReplies
			if a.TerminationMarker != "" {
				o.Terminate = agent.ContainsMarker(a.TerminationMarker)
			}
			o.Logger = log
		}))
	}
	return out, nil
}

// OpenArchive builds the configured transcript store.
func (f *File) OpenArchive(ctx context.Context) (session.Store, error) {
	a := f.Archive
	switch a.Backend {
	case "", "memory":
		return session.NewInMemoryStore(), nil
	case "redis":
		return session.NewRedisStoreFromURL(ctx, a.URL, func(o *session.RedisOptions) {
			if a.KeyPrefix != "" {
				o.KeyPrefix = a.KeyPrefix
			}
			o.TTL = time.Duration(a.TTL)
		})
	case "sql":
		db, err := gorm.Open(sqlite.Open(a.DSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("open archive database: %w", err)
		}
		return session.NewSQLStore(db)
	default:
		return nil, core.NewConfigError("config", "unknown archive.backend %q", a.Backend)
	}
}
