package crust

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultIdentifier         = "crust"
	DefaultLargeThreshold     = 250
	DefaultStartDelay         = 5500 * time.Millisecond
	DefaultReconnectStep      = time.Second
	DefaultMaxReconnectWait   = 60 * time.Second
	DefaultInvalidSessionWait = 5 * time.Second
	DefaultGuildReadyTimeout  = 15 * time.Second
)

// Configuration is built once at process start and handed to NewManager.
type Configuration struct {
	Logging  LoggingConfiguration  `json:"logging" yaml:"logging"`
	HTTP     HTTPConfiguration     `json:"http" yaml:"http"`
	Producer ProducerConfiguration `json:"producer" yaml:"producer"`
	Relay    RelayConfiguration    `json:"relay" yaml:"relay"`
	Identify IdentifyConfiguration `json:"identify" yaml:"identify"`

	// Identifier labels metrics and produced events.
	Identifier string `json:"identifier" yaml:"identifier"`
	Token      string `json:"-" yaml:"token"`

	// RESTURL overrides where GET /gateway/bot is sent.
	RESTURL string `json:"rest_url" yaml:"rest_url"`

	// GatewayURL overrides the url returned by GET /gateway/bot.
	GatewayURL string `json:"gateway_url" yaml:"gateway_url"`

	Codec CodecOptions `json:"codec" yaml:"codec"`

	DefaultPresence UpdateStatus `json:"default_presence" yaml:"default_presence"`
	Intents         int32        `json:"intents" yaml:"intents"`
	LargeThreshold  int32        `json:"large_threshold" yaml:"large_threshold"`

	// ShardID runs a single shard when set.
	ShardID *int32 `json:"shard_id,omitempty" yaml:"shard_id"`

	// ShardCount of zero uses the count suggested by the gateway.
	ShardCount int32 `json:"shard_count" yaml:"shard_count"`

	// ShardIDs is a range such as 0-4,6. Empty runs every shard.
	ShardIDs string `json:"shard_ids" yaml:"shard_ids"`

	// Shards are split across nodes by shard_id % node_count.
	NodeCount int32 `json:"node_count" yaml:"node_count"`
	NodeID    int32 `json:"node_id" yaml:"node_id"`

	StartDelay         time.Duration `json:"start_delay" yaml:"start_delay"`
	ReconnectStep      time.Duration `json:"reconnect_step" yaml:"reconnect_step"`
	MaxReconnectWait   time.Duration `json:"max_reconnect_wait" yaml:"max_reconnect_wait"`
	InvalidSessionWait time.Duration `json:"invalid_session_wait" yaml:"invalid_session_wait"`

	// GuildReadyTimeout stops waiting for guilds listed in READY. Negative disables it.
	GuildReadyTimeout time.Duration `json:"guild_ready_timeout" yaml:"guild_ready_timeout"`

	// Events that will not be dispatched.
	EventBlacklist []string `json:"event_blacklist" yaml:"event_blacklist"`
	// Events that are dispatched but not produced.
	ProduceBlacklist []string `json:"produce_blacklist" yaml:"produce_blacklist"`
}

type LoggingConfiguration struct {
	Level string `json:"level" yaml:"level"`

	ConsoleLoggingEnabled bool `json:"console_logging" yaml:"console_logging"`
	FileLoggingEnabled    bool `json:"file_logging" yaml:"file_logging"`

	EncodeAsJSON bool `json:"encode_as_json" yaml:"encode_as_json"`

	Directory  string `json:"directory" yaml:"directory"`
	Filename   string `json:"filename" yaml:"filename"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type HTTPConfiguration struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
}

type ProducerConfiguration struct {
	// Type is one of stan, jetstream, kafka, redis or empty for none.
	Type      string            `json:"type" yaml:"type"`
	Channel   string            `json:"channel" yaml:"channel"`
	Arguments map[string]string `json:"arguments" yaml:"arguments"`
}

type RelayConfiguration struct {
	// Mode is local, pipe or nats.
	Mode         string `json:"mode" yaml:"mode"`
	NATSAddress  string `json:"nats_address" yaml:"nats_address"`
	Subject      string `json:"subject" yaml:"subject"`
	ProcessID    int32  `json:"process_id" yaml:"process_id"`
	ProcessCount int32  `json:"process_count" yaml:"process_count"`
}

type IdentifyConfiguration struct {
	// URL allows for variables:
	// {shard_id}, {shard_count}, {token}, {token_hash}, {max_concurrency}
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers" yaml:"headers"`
}

// Validate fills in defaults and rejects unusable configurations.
func (c *Configuration) Validate() error {
	if c.Token == "" {
		return ErrMissingToken
	}

	if c.Identifier == "" {
		c.Identifier = DefaultIdentifier
	}

	if c.LargeThreshold == 0 {
		c.LargeThreshold = DefaultLargeThreshold
	}

	if c.StartDelay == 0 {
		c.StartDelay = DefaultStartDelay
	}

	if c.ReconnectStep == 0 {
		c.ReconnectStep = DefaultReconnectStep
	}

	if c.MaxReconnectWait == 0 {
		c.MaxReconnectWait = DefaultMaxReconnectWait
	}

	if c.InvalidSessionWait == 0 {
		c.InvalidSessionWait = DefaultInvalidSessionWait
	}

	if c.GuildReadyTimeout == 0 {
		c.GuildReadyTimeout = DefaultGuildReadyTimeout
	}

	if c.Codec.Encoding == "" {
		c.Codec.Encoding = EncodingJSON
	}

	if c.DefaultPresence.Status == "" {
		c.DefaultPresence.Status = "online"
	}

	if c.Relay.Mode == "" {
		c.Relay.Mode = "local"
	}

	if c.NodeCount > 0 && (c.NodeID < 0 || c.NodeID >= c.NodeCount) {
		return fmt.Errorf("node_id %d is outside node_count %d", c.NodeID, c.NodeCount)
	}

	return nil
}

// ApplyEnvironment overrides configuration values from the environment. It
// takes os.LookupEnv so nothing below the entrypoint reads the environment.
func (c *Configuration) ApplyEnvironment(lookup func(string) (string, bool)) error {
	if value, ok := lookup("CRUST_TOKEN"); ok && value != "" {
		c.Token = value
	}

	if value, ok := lookup("CRUST_GATEWAY_URL"); ok && value != "" {
		c.GatewayURL = value
	}

	if value, ok := lookup("CRUST_RELAY_MODE"); ok && value != "" {
		c.Relay.Mode = value
	}

	ints := []struct {
		key string
		set func(int32)
	}{
		{"CRUST_SHARD_ID", func(v int32) { c.ShardID = &v }},
		{"CRUST_SHARD_COUNT", func(v int32) { c.ShardCount = v }},
		{"CRUST_PROCESS_ID", func(v int32) { c.Relay.ProcessID = v }},
		{"CRUST_PROCESS_COUNT", func(v int32) { c.Relay.ProcessCount = v }},
	}

	for _, entry := range ints {
		value, ok := lookup(entry.key)
		if !ok || value == "" {
			continue
		}

		parsed, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", entry.key, err)
		}

		entry.set(int32(parsed))
	}

	return nil
}

type ConfigProvider interface {
	GetConfig(ctx context.Context) (*Configuration, error)
	SaveConfig(ctx context.Context, config *Configuration) error
}

// ConfigProviderFromPath reads and writes a YAML file.
type ConfigProviderFromPath struct {
	path string
}

func NewConfigProviderFromPath(path string) ConfigProviderFromPath {
	return ConfigProviderFromPath{path}
}

func (c ConfigProviderFromPath) GetConfig(_ context.Context) (*Configuration, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Configuration
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return &config, nil
}

func (c ConfigProviderFromPath) SaveConfig(_ context.Context, config *Configuration) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(c.path, data, 0o600)
}
