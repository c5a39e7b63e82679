package config

import (
    "fmt"
    "os"
    "time"

    "gopkg.in/yaml.v3"
)

type Rule struct {
    ID          string   `yaml:"id"`
    Description string   `yaml:"description"`
    EventTypes  []string `yaml:"event_types"`

    CommRegex string `yaml:"comm_regex,omitempty"`

    MinUid *uint32 `yaml:"min_uid,omitempty"`
    MaxUid *uint32 `yaml:"max_uid,omitempty"`
}

type Config struct {
    // CorrelationWindowMs bounds the gap between a namespace-changing
    // syscall and the nsid assignment attributed to it.
    CorrelationWindowMs int `yaml:"correlation_window_ms"`
    CorrelationTable    int `yaml:"correlation_table_size"`

    // RingCapacity is the user-space ring size in bytes; must be a power
    // of two. Defaults to the kernel-side 16 MiB.
    RingCapacity int `yaml:"ring_capacity"`

    Rules []Rule `yaml:"rules"`
}

const (
    defaultWindowMs  = 500
    defaultTableSize = 4096
    defaultRingBytes = 1 << 24
)

func Load(path string) (*Config, error) {
    data, err := os.ReadFile(path)
    if err != nil {
        return nil, fmt.Errorf("read config: %w", err)
    }
    var cfg Config
    if err := yaml.Unmarshal(data, &cfg); err != nil {
        return nil, fmt.Errorf("unmarshal config: %w", err)
    }
    cfg.applyDefaults()
    return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
    cfg := &Config{}
    cfg.applyDefaults()
    return cfg
}

func (c *Config) applyDefaults() {
    if c.CorrelationWindowMs <= 0 {
        c.CorrelationWindowMs = defaultWindowMs
    }
    if c.CorrelationTable <= 0 {
        c.CorrelationTable = defaultTableSize
    }
    if c.RingCapacity <= 0 {
        c.RingCapacity = defaultRingBytes
    }
}

func (c *Config) CorrelationWindow() time.Duration {
    return time.Duration(c.CorrelationWindowMs) * time.Millisecond
}
