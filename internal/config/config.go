package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type GraphConfig struct {
	// MaxDepth bounds every ancestor/descendant traversal. Malformed data
	// cannot push a query past this many generations.
	MaxDepth int `toml:"max_depth"`

	// MaxAlternatePaths caps how many pedigree-collapse alternates a
	// classification reports.
	MaxAlternatePaths int `toml:"max_alternate_paths"`

	// MaxPaths caps distinct recorded paths per traversal node under
	// pedigree collapse.
	MaxPaths int `toml:"max_paths"`
}

// WeightProfile holds the relative weight of each duplicate-scoring
// signal. Weights are normalized at scoring time, so only ratios matter.
type WeightProfile struct {
	Name            float64 `toml:"name"`
	BirthDate       float64 `toml:"birth_date"`
	DeathDate       float64 `toml:"death_date"`
	Place           float64 `toml:"place"`
	SharedRelatives float64 `toml:"shared_relatives"`
}

type DedupeConfig struct {
	// MinConfidence is the default floor for batch scans. Pairs below it
	// are not proposed. No confidence, however high, bypasses review.
	MinConfidence float64 `toml:"min_confidence"`

	// Workers bounds scan parallelism.
	Workers int `toml:"workers"`

	// SharedRelativesCap is the count at which the shared-relatives
	// signal saturates to full score.
	SharedRelativesCap int `toml:"shared_relatives_cap"`

	Living   WeightProfile `toml:"living"`
	Deceased WeightProfile `toml:"deceased"`
}

type BridgeConfig struct {
	// TTLHours is how long a proposal stays answerable.
	TTLHours int `toml:"ttl_hours"`

	// MinHintSupport is the minimum fuzzy-match score the common-ancestor
	// hint must reach in the target's tree for a proposal to be created.
	MinHintSupport float64 `toml:"min_hint_support"`
}

type StorageConfig struct {
	// Backend selects the graph driver: "memory" or "bolt".
	Backend  string `toml:"backend"`
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type Config struct {
	Graph   GraphConfig   `toml:"graph"`
	Dedupe  DedupeConfig  `toml:"dedupe"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Storage StorageConfig `toml:"storage"`
	Server  ServerConfig  `toml:"server"`
}

// Default returns a fully usable configuration; a missing config file is
// not an error. The weights are starting points, tuned in production via
// the config file rather than code.
func Default() *Config {
	return &Config{
		Graph: GraphConfig{
			MaxDepth:          12,
			MaxAlternatePaths: 4,
			MaxPaths:          8,
		},
		Dedupe: DedupeConfig{
			MinConfidence:      0.55,
			Workers:            4,
			SharedRelativesCap: 3,
			Living: WeightProfile{
				Name:            0.35,
				BirthDate:       0.20,
				DeathDate:       0.05,
				Place:           0.15,
				SharedRelatives: 0.25,
			},
			Deceased: WeightProfile{
				Name:            0.40,
				BirthDate:       0.25,
				DeathDate:       0.15,
				Place:           0.10,
				SharedRelatives: 0.10,
			},
		},
		Bridge: BridgeConfig{
			TTLHours:       14 * 24,
			MinHintSupport: 0.4,
		},
		Storage: StorageConfig{
			Backend: "memory",
			URI:     "bolt://localhost:7687",
		},
		Server: ServerConfig{
			Port: "8080",
		},
	}
}

// Load reads a TOML file over the defaults, then applies env overrides.
// A missing file is not an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("KINSHIP_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("KINSHIP_BOLT_URI"); v != "" {
		c.Storage.URI = v
	}
	if v := os.Getenv("KINSHIP_BOLT_USER"); v != "" {
		c.Storage.User = v
	}
	if v := os.Getenv("KINSHIP_BOLT_PASSWORD"); v != "" {
		c.Storage.Password = v
	}
	if v := os.Getenv("KINSHIP_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Graph.MaxDepth = n
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
}

func (c *Config) validate() error {
	if c.Graph.MaxDepth <= 0 {
		return fmt.Errorf("graph.max_depth must be positive, got %d", c.Graph.MaxDepth)
	}
	if c.Graph.MaxPaths <= 0 {
		return fmt.Errorf("graph.max_paths must be positive, got %d", c.Graph.MaxPaths)
	}
	if c.Dedupe.MinConfidence < 0 || c.Dedupe.MinConfidence > 1 {
		return fmt.Errorf("dedupe.min_confidence must be in [0,1], got %f", c.Dedupe.MinConfidence)
	}
	if c.Dedupe.Workers <= 0 {
		return fmt.Errorf("dedupe.workers must be positive, got %d", c.Dedupe.Workers)
	}
	if c.Bridge.TTLHours <= 0 {
		return fmt.Errorf("bridge.ttl_hours must be positive, got %d", c.Bridge.TTLHours)
	}
	switch c.Storage.Backend {
	case "memory", "bolt":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// TTL returns the proposal lifetime as a duration.
func (c BridgeConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}
