// Package config stores landctl connection profiles in a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	DefaultProducerURL = "http://localhost:4000"
	DefaultConsumerURL = "http://localhost:4001"

	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "LANDCTL_CONFIG"
)

// ErrProfileNotFound is returned when a named profile does not exist.
var ErrProfileNotFound = errors.New("profile not found")

type Config struct {
	CurrentProfile string              `yaml:"current_profile"`
	Profiles       map[string]*Profile `yaml:"profiles"`
	path           string
}

// Profile names one deployment of the relay.
type Profile struct {
	ProducerURL string `yaml:"producer_url" json:"producer_url"`
	ConsumerURL string `yaml:"consumer_url" json:"consumer_url"`
	Token       string `yaml:"token,omitempty" json:"token,omitempty"`
}

func Default() *Config {
	return &Config{CurrentProfile: "default", Profiles: map[string]*Profile{}}
}

// DefaultPath returns $LANDCTL_CONFIG, or $HOME/.landctl/config.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".landctl", "config.yaml"), nil
}

// Load reads path, or DefaultPath when path is empty. A missing file
// yields Default.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	cfg.path = path

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, nil
	case err != nil:
		return nil, err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]*Profile{}
	}
	return cfg, nil
}

// Save writes the config file with mode 0600.
func (c *Config) Save() error {
	if c.path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = p
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(c.path, raw, 0o600)
}

// SaveProfile stores p under name, makes it current and writes the file.
func (c *Config) SaveProfile(name string, p Profile) error {
	if c.Profiles == nil {
		c.Profiles = map[string]*Profile{}
	}
	c.Profiles[name] = &p
	c.CurrentProfile = name
	return c.Save()
}

// GetProfile returns the named profile, or the current one when name is empty.
func (c *Config) GetProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}
	if p, ok := c.Profiles[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
}

// Names returns the profile names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the named profile with unset URLs filled from the
// defaults. A missing profile resolves to the defaults.
func (c *Config) Resolve(name string) Profile {
	var p Profile
	if found, err := c.GetProfile(name); err == nil {
		p = *found
	}
	if p.ProducerURL == "" {
		p.ProducerURL = DefaultProducerURL
	}
	if p.ConsumerURL == "" {
		p.ConsumerURL = DefaultConsumerURL
	}
	return p
}

// RemoveProfile deletes name and clears it as current if it was.
func (c *Config) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	delete(c.Profiles, name)
	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}
	return c.Save()
}
