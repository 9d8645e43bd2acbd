package config

import (
	"time"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Guard    GuardConfig    `yaml:"guard"`
	Health   HealthConfig   `yaml:"health"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Notifier NotifierConfig `yaml:"notifier"`
}

type ServerConfig struct {
	Port        int    `yaml:"port" default:"8080"`
	MetricsPort int    `yaml:"metrics_port" default:"9090"`
	LogLevel    string `yaml:"log_level" default:"info"`
	AdminSecret string `yaml:"admin_secret"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" default:"5432"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// TierLimit is one (ceiling, window) pair for a caller tier.
type TierLimit struct {
	Ceiling int           `yaml:"ceiling"`
	Window  time.Duration `yaml:"window"`
}

// GuardConfig holds the Access Guard tunables. The suspicion constants
// mirror the historical production values; they are configuration, not
// literals in the scoring code.
type GuardConfig struct {
	Tiers map[string]TierLimit `yaml:"tiers"`

	PremiumLevel int      `yaml:"premium_level" default:"5"`
	AdminSetKey  string   `yaml:"admin_set_key" default:"admin:members"`
	AdminIDs     []string `yaml:"admin_ids"`

	Suspicion SuspicionConfig `yaml:"suspicion"`

	BanDuration     time.Duration `yaml:"ban_duration" default:"24h"`
	FlagTTL         time.Duration `yaml:"flag_ttl" default:"1h"`
	LastSeenTTL     time.Duration `yaml:"last_seen_ttl" default:"24h"`
	EventTTL        time.Duration `yaml:"event_ttl" default:"168h"`
	EventBufferSize int           `yaml:"event_buffer_size" default:"1000"`

	EncryptionKey  string `yaml:"encryption_key"`
	EncryptionAlgo string `yaml:"encryption_algo" default:"aes-gcm"`
}

type SuspicionConfig struct {
	DenyThreshold int `yaml:"deny_threshold" default:"100"`

	VolumeThreshold int           `yaml:"volume_threshold" default:"50"`
	VolumeWeight    int           `yaml:"volume_weight" default:"30"`
	VolumeWindow    time.Duration `yaml:"volume_window" default:"1m"`

	RegularityWeight      int     `yaml:"regularity_weight" default:"20"`
	RegularityMinSamples  int     `yaml:"regularity_min_samples" default:"10"`
	RegularityMaxVariance float64 `yaml:"regularity_max_variance" default:"1000"`
	RegularityMaxMean     float64 `yaml:"regularity_max_mean" default:"5000"`

	RepetitionWeight      int     `yaml:"repetition_weight" default:"25"`
	RepetitionMinDistinct int     `yaml:"repetition_min_distinct" default:"3"`
	SpeedWeight           int     `yaml:"speed_weight" default:"30"`
	SpeedMaxMeanLatency   float64 `yaml:"speed_max_mean_latency" default:"100"`
	BotMinSamples         int     `yaml:"bot_min_samples" default:"10"`

	OriginWeight    int `yaml:"origin_weight" default:"40"`
	OriginThreshold int `yaml:"origin_threshold" default:"10"`
}

// ProbeConfig names one external dependency to check.
type ProbeConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout" default:"5s"`
}

type HealthConfig struct {
	Interval       time.Duration `yaml:"interval" default:"5m"`
	HistorySize    int           `yaml:"history_size" default:"288"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout" default:"5s"`
	Probes         []ProbeConfig `yaml:"probes"`
	MemoryFraction float64       `yaml:"memory_fraction" default:"0.85"`
	CPUFraction    float64       `yaml:"cpu_fraction" default:"0.80"`

	MaxResponseTime time.Duration `yaml:"max_response_time" default:"5s"`
	AlertRetention  time.Duration `yaml:"alert_retention" default:"720h"`
}

type LedgerConfig struct {
	Retention       time.Duration `yaml:"retention" default:"8760h"`
	ReportRetention time.Duration `yaml:"report_retention" default:"720h"`
	MaxEntries      int           `yaml:"max_entries" default:"100000"`
	HashSalt        string        `yaml:"hash_salt"`
	DeletionSLA     time.Duration `yaml:"deletion_sla" default:"720h"`
	AccessSLA       time.Duration `yaml:"access_sla" default:"168h"`
	SweepInterval   time.Duration `yaml:"sweep_interval" default:"1h"`
}

type NotifierConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout" default:"10s"`
}

// Default returns a config with the historical limits and scoring
// constants filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			MetricsPort: 9090,
			LogLevel:    "info",
		},
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "disable",
		},
		Guard: GuardConfig{
			Tiers: map[string]TierLimit{
				"default": {Ceiling: 30, Window: 60 * time.Second},
				"premium": {Ceiling: 100, Window: 60 * time.Second},
				"admin":   {Ceiling: 500, Window: 60 * time.Second},
			},
			PremiumLevel: 5,
			AdminSetKey:  "admin:members",
			Suspicion: SuspicionConfig{
				DenyThreshold:         100,
				VolumeThreshold:       50,
				VolumeWeight:          30,
				VolumeWindow:          time.Minute,
				RegularityWeight:      20,
				RegularityMinSamples:  10,
				RegularityMaxVariance: 1000,
				RegularityMaxMean:     5000,
				RepetitionWeight:      25,
				RepetitionMinDistinct: 3,
				SpeedWeight:           30,
				SpeedMaxMeanLatency:   100,
				BotMinSamples:         10,
				OriginWeight:          40,
				OriginThreshold:       10,
			},
			BanDuration:     24 * time.Hour,
			FlagTTL:         time.Hour,
			LastSeenTTL:     24 * time.Hour,
			EventTTL:        7 * 24 * time.Hour,
			EventBufferSize: 1000,
			EncryptionAlgo:  "aes-gcm",
		},
		Health: HealthConfig{
			Interval:        5 * time.Minute,
			HistorySize:     288,
			ProbeTimeout:    5 * time.Second,
			MemoryFraction:  0.85,
			CPUFraction:     0.80,
			MaxResponseTime: 5 * time.Second,
			AlertRetention:  30 * 24 * time.Hour,
		},
		Ledger: LedgerConfig{
			Retention:       365 * 24 * time.Hour,
			ReportRetention: 30 * 24 * time.Hour,
			MaxEntries:      100000,
			DeletionSLA:     30 * 24 * time.Hour,
			AccessSLA:       7 * 24 * time.Hour,
			SweepInterval:   time.Hour,
		},
		Notifier: NotifierConfig{
			Timeout: 10 * time.Second,
		},
	}
}
