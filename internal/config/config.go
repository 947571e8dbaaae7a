package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration, parsed from the environment.
// Optional third-party credentials that are absent disable the commands that
// need them at startup; only the bot token is mandatory.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	Prefix       string `env:"COMMAND_PREFIX" envDefault:"!"`
	OwnerID      string `env:"OWNER_ID"`

	DataDir   string `env:"DATA_DIR" envDefault:"db"`
	StatsPath string `env:"STATS_PATH" envDefault:"stats/guilds.json"`
	SoundDir  string `env:"SOUND_DIR" envDefault:"sounds"`
	LogDir    string `env:"LOG_DIR" envDefault:"logs"`
	Debug     bool   `env:"DEBUG" envDefault:"false"`

	CacheSize         int           `env:"CACHE_SIZE" envDefault:"128"`
	MaxDownloadSize   int64         `env:"MAX_DOWNLOAD_SIZE" envDefault:"26214400"` // 25 MB
	InactivityTimeout time.Duration `env:"PLAYER_INACTIVITY_TIMEOUT" envDefault:"10m"`
	VoiceJoinTimeout  time.Duration `env:"VOICE_JOIN_TIMEOUT" envDefault:"10s"`
	DownloadsEnabled  bool          `env:"DOWNLOADS_ENABLED" envDefault:"true"`

	// RehostChannelID is where mirrored files are uploaded so their CDN
	// URLs outlive the invocation channel. Empty falls back to the channel
	// the command came from.
	RehostChannelID string `env:"REHOST_CHANNEL_ID"`

	// Diagnostics thresholds; when crossed the daily check DMs the owner.
	DiskWarnPercent float64 `env:"DISK_WARN_PERCENT" envDefault:"90"`
	MemWarnPercent  float64 `env:"MEM_WARN_PERCENT" envDefault:"90"`
	CPUWarnPercent  float64 `env:"CPU_WARN_PERCENT" envDefault:"95"`

	RedditID        string `env:"REDDIT_ID"`
	RedditSecret    string `env:"REDDIT_SECRET"`
	RedditUserAgent string `env:"REDDIT_USER_AGENT"`
}

var ErrNoToken = errors.New("DISCORD_TOKEN is not set")

// New loads .env if present and parses the environment. A missing bot token
// is the only fatal condition here.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.DiscordToken == "" {
		return nil, ErrNoToken
	}
	return cfg, nil
}

// HasReddit reports whether reddit credentials are configured.
func (c *Config) HasReddit() bool {
	return c.RedditID != "" && c.RedditSecret != "" && c.RedditUserAgent != ""
}
