// Package config wraps viper around the ini-style config file the desktop app
// reads and writes. Components address settings by (section, option) and never
// touch the file format.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Section and option names.
const (
	SectionBot    = "bot"
	SectionServer = "server"
	SectionTwitch = "twitch"
	SectionDnD    = "dnd"
	SectionTTS    = "tts"
	SectionLog    = "log"
)

// Config is the injected read/write key-value capability. Safe for concurrent
// reads; writes are serialized.
type Config struct {
	mu    sync.RWMutex
	viper *viper.Viper
	path  string
}

// Load reads the config file at path, seeding defaults and creating the file
// on first run. Environment variables override file values for secrets
// (e.g. TWITCH_CLIENT_SECRET overrides twitch.client_secret).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(errors.Unwrap(err)) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// First run: seed the file with defaults.
		if err := v.WriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("initialize config %s: %w", path, err)
		}
	}

	return &Config{viper: v, path: path}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(key(SectionBot, "prefix"), "!")
	v.SetDefault(key(SectionBot, "join_command"), "join")
	v.SetDefault(key(SectionBot, "speak_command"), "say")
	v.SetDefault(key(SectionBot, "voices_command"), "voices")
	v.SetDefault(key(SectionBot, "voice_command"), "voice")
	v.SetDefault(key(SectionBot, "join_cooldown_minutes"), 10)

	v.SetDefault(key(SectionServer, "port"), 5000)
	v.SetDefault(key(SectionServer, "db_path"), "chatdnd.db")

	v.SetDefault(key(SectionTwitch, "channel"), "")
	v.SetDefault(key(SectionTwitch, "client_id"), "")
	v.SetDefault(key(SectionTwitch, "client_secret"), "")
	v.SetDefault(key(SectionTwitch, "bot_user_id"), "")
	v.SetDefault(key(SectionTwitch, "user_token"), "")
	v.SetDefault(key(SectionTwitch, "refresh_token"), "")

	v.SetDefault(key(SectionDnD, "party_size"), 4)
	v.SetDefault(key(SectionDnD, "party_cap"), 8)

	v.SetDefault(key(SectionTTS, "local_command"), "")
	v.SetDefault(key(SectionTTS, "elevenlabs_api_key"), "")

	v.SetDefault(key(SectionLog, "level"), "info")
	v.SetDefault(key(SectionLog, "format"), "text")
}

func key(section, option string) string {
	return section + "." + option
}

// KnownSection reports whether name is one of the configured sections.
func KnownSection(name string) bool {
	switch name {
	case SectionBot, SectionServer, SectionTwitch, SectionDnD, SectionTTS, SectionLog:
		return true
	}
	return false
}

// Get returns the string value for (section, option).
func (c *Config) Get(section, option string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetString(key(section, option))
}

// GetInt returns the integer value for (section, option).
func (c *Config) GetInt(section, option string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetInt(key(section, option))
}

// GetBool returns the boolean value for (section, option).
func (c *Config) GetBool(section, option string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetBool(key(section, option))
}

// GetDuration returns the duration value for (section, option).
func (c *Config) GetDuration(section, option string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetDuration(key(section, option))
}

// Set stages a value. Call Save to persist staged values.
func (c *Config) Set(section, option string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viper.Set(key(section, option), value)
}

// Save persists all staged values back to the config file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.viper.WriteConfigAs(c.path); err != nil {
		return fmt.Errorf("write config %s: %w", c.path, err)
	}
	return nil
}

// TwitchAuth returns the client id/secret pair, or ok=false when either is
// missing.
func (c *Config) TwitchAuth() (clientID, clientSecret string, ok bool) {
	clientID = strings.TrimSpace(c.Get(SectionTwitch, "client_id"))
	clientSecret = strings.TrimSpace(c.Get(SectionTwitch, "client_secret"))
	if clientID == "" || clientSecret == "" {
		return "", "", false
	}
	return clientID, clientSecret, true
}

// Prefix returns the single-character command prefix.
func (c *Config) Prefix() string {
	p := strings.TrimSpace(c.Get(SectionBot, "prefix"))
	if p == "" {
		return "!"
	}
	return p[:1]
}
