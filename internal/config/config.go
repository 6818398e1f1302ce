// Package config loads coordinator/worker configuration via viper: a YAML
// file, environment overrides (prefix MMK_), and hard-coded defaults,
// mirroring the teacher's viper.SetDefault-heavy Load() convention.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Role selects which side of the protocol a process runs.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleWorker      Role = "worker"
)

// Election holds the MinMax-K round parameters.
type Election struct {
	K      int
	T      time.Duration
	TPoll  time.Duration
}

// Listen holds the UDP transport parameters shared by both roles.
type Listen struct {
	Port           int
	MulticastGroup string
	Interface      string
}

// Dashboard holds the coordinator's optional live-feed websocket settings.
type Dashboard struct {
	Enabled    bool
	ListenAddr string
}

// Store holds the coordinator's experiment-history persistence settings.
type Store struct {
	Path string
}

// Coordinator holds settings specific to the coordinator role.
type Coordinator struct {
	MaxExp          int
	MaxNodes        int
	DiscoveryRounds int
	Topology        string
	Store           Store
	Dashboard       Dashboard
}

// Log holds structured-logging settings.
type Log struct {
	Level  string
	Format string
}

// Config is the fully resolved configuration for one process.
type Config struct {
	Role        Role
	Listen      Listen
	Election    Election
	Coordinator Coordinator
	Log         Log
}

// Load reads configuration from path (if non-empty) layered over defaults
// and environment overrides, the way backend/config.Load searches a config
// file path and falls back to SetDefault values when absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MMK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	} else {
		v.SetConfigName("mmk")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mmk")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: reading default search path: %w", err)
			}
		}
	}

	cfg := &Config{
		Role: Role(v.GetString("role")),
		Listen: Listen{
			Port:           v.GetInt("listen.port"),
			MulticastGroup: v.GetString("listen.multicast_group"),
			Interface:      v.GetString("listen.interface"),
		},
		Election: Election{
			K:     v.GetInt("election.k"),
			T:     v.GetDuration("election.t"),
			TPoll: v.GetDuration("election.t_poll"),
		},
		Coordinator: Coordinator{
			MaxExp:          v.GetInt("coordinator.max_exp"),
			MaxNodes:        v.GetInt("coordinator.max_nodes"),
			DiscoveryRounds: v.GetInt("coordinator.discovery_rounds"),
			Topology:        v.GetString("coordinator.topology"),
			Store: Store{
				Path: v.GetString("coordinator.store.path"),
			},
			Dashboard: Dashboard{
				Enabled:    v.GetBool("coordinator.dashboard.enabled"),
				ListenAddr: v.GetString("coordinator.dashboard.listen_addr"),
			},
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("role", string(RoleWorker))

	v.SetDefault("listen.port", 3142)
	v.SetDefault("listen.multicast_group", "ff02::1")
	v.SetDefault("listen.interface", "")

	v.SetDefault("election.k", 5)
	v.SetDefault("election.t", "6s")
	v.SetDefault("election.t_poll", "4s")

	v.SetDefault("coordinator.max_exp", 10)
	v.SetDefault("coordinator.max_nodes", 70)
	v.SetDefault("coordinator.discovery_rounds", 3)
	v.SetDefault("coordinator.topology", "ring")
	v.SetDefault("coordinator.store.path", "./mmk-experiments.db")
	v.SetDefault("coordinator.dashboard.enabled", false)
	v.SetDefault("coordinator.dashboard.listen_addr", ":8420")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks a resolved Config for invalid combinations that
// viper's defaulting cannot catch on its own.
func Validate(cfg *Config) error {
	if cfg.Role != RoleCoordinator && cfg.Role != RoleWorker {
		return fmt.Errorf("config: role must be %q or %q, got %q", RoleCoordinator, RoleWorker, cfg.Role)
	}
	if cfg.Listen.Port <= 0 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port out of range: %d", cfg.Listen.Port)
	}
	if cfg.Election.K < 0 {
		return fmt.Errorf("config: election.k must be >= 0, got %d", cfg.Election.K)
	}
	if cfg.Election.T <= 0 || cfg.Election.TPoll <= 0 {
		return fmt.Errorf("config: election.t and election.t_poll must be positive durations")
	}
	if cfg.Role == RoleCoordinator {
		if _, err := parseTopologyName(cfg.Coordinator.Topology); err != nil {
			return err
		}
		if cfg.Coordinator.MaxExp <= 0 {
			return fmt.Errorf("config: coordinator.max_exp must be positive, got %d", cfg.Coordinator.MaxExp)
		}
		if cfg.Coordinator.MaxNodes <= 0 {
			return fmt.Errorf("config: coordinator.max_nodes must be positive, got %d", cfg.Coordinator.MaxNodes)
		}
	}
	return nil
}

// parseTopologyName checks against the same small enum as
// internal/topology locally, so this package does not import it for one
// string check.
func parseTopologyName(s string) (string, error) {
	switch s {
	case "ring", "line", "tree", "mesh", "gen":
		return s, nil
	default:
		return "", fmt.Errorf("config: coordinator.topology unknown: %q", s)
	}
}
