package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/MarcoPoloResearchLab/journeys/internal/journeys"
	"github.com/spf13/viper"
)

const (
	envPrefix                      = "JOURNEYS"
	defaultHTTPAddress             = "0.0.0.0:8008"
	defaultDatabasePath            = "journey_assembler.db"
	defaultLogLevel                = "info"
	defaultLogFormat               = "json"
	defaultIssuer                  = "journey-assembler"
	defaultAudience                = "journey-producers"
	defaultTokenTTLMinutes         = 60 * 24 * 30
	defaultMinConfidence           = 0.60
	defaultBehavioralAgreement     = 0.60
	defaultProbabilisticMinSignals = 2
	defaultBusinessTimezone        = "UTC"
	defaultB2CBoundaryDays         = 60
	defaultB2BBoundaryDays         = 90
	defaultBackupEveryTouchpoints  = 100

	day = 24 * time.Hour
)

// AppConfig captures runtime configuration for the assembler.
type AppConfig struct {
	HTTPAddress             string
	DatabasePath            string
	LogLevel                string
	LogFormat               string
	SigningSecret           string
	Issuer                  string
	Audience                string
	TokenTTL                time.Duration
	MinConfidence           float64
	BehavioralAgreement     float64
	ProbabilisticMinSignals int
	BusinessLocation        *time.Location
	B2CBoundary             time.Duration
	B2BBoundary             time.Duration
	Workers                 int
	Patterns                []journeys.Pattern
	BackupEveryTouchpoints  int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("resolution.min_confidence", defaultMinConfidence)
	configViper.SetDefault("resolution.behavioral_agreement", defaultBehavioralAgreement)
	configViper.SetDefault("resolution.probabilistic_min_signals", defaultProbabilisticMinSignals)
	configViper.SetDefault("resolution.business_timezone", defaultBusinessTimezone)
	configViper.SetDefault("assembly.b2c_boundary_days", defaultB2CBoundaryDays)
	configViper.SetDefault("assembly.b2b_boundary_days", defaultB2BBoundaryDays)
	configViper.SetDefault("assembly.workers", 0)
	configViper.SetDefault("assembly.patterns", []string{})
	configViper.SetDefault("backup.every_touchpoints", defaultBackupEveryTouchpoints)
}

// Load parses runtime configuration from viper. The signing secret is checked separately by the
// commands that need it.
func Load(configViper *viper.Viper) (AppConfig, error) {
	location, err := time.LoadLocation(configViper.GetString("resolution.business_timezone"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("resolution.business_timezone: %w", err)
	}
	patterns, err := parsePatterns(configViper.GetStringSlice("assembly.patterns"))
	if err != nil {
		return AppConfig{}, err
	}

	cfg := AppConfig{
		HTTPAddress:             configViper.GetString("http.address"),
		DatabasePath:            configViper.GetString("database.path"),
		LogLevel:                configViper.GetString("log.level"),
		LogFormat:               configViper.GetString("log.format"),
		SigningSecret:           configViper.GetString("auth.signing_secret"),
		Issuer:                  configViper.GetString("auth.issuer"),
		Audience:                configViper.GetString("auth.audience"),
		TokenTTL:                time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		MinConfidence:           configViper.GetFloat64("resolution.min_confidence"),
		BehavioralAgreement:     configViper.GetFloat64("resolution.behavioral_agreement"),
		ProbabilisticMinSignals: configViper.GetInt("resolution.probabilistic_min_signals"),
		BusinessLocation:        location,
		B2CBoundary:             time.Duration(configViper.GetInt("assembly.b2c_boundary_days")) * day,
		B2BBoundary:             time.Duration(configViper.GetInt("assembly.b2b_boundary_days")) * day,
		Workers:                 configViper.GetInt("assembly.workers"),
		Patterns:                patterns,
		BackupEveryTouchpoints:  configViper.GetInt("backup.every_touchpoints"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// RequireSigningSecret reports an error when producer tokens cannot be issued or verified.
func (c AppConfig) RequireSigningSecret() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.Audience) == "" {
		return fmt.Errorf("auth.audience is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.MinConfidence <= 0 || c.MinConfidence > 1 {
		return fmt.Errorf("resolution.min_confidence must be within (0,1]")
	}
	if c.BehavioralAgreement <= 0 || c.BehavioralAgreement > 1 {
		return fmt.Errorf("resolution.behavioral_agreement must be within (0,1]")
	}
	if c.ProbabilisticMinSignals < 1 || c.ProbabilisticMinSignals > 3 {
		return fmt.Errorf("resolution.probabilistic_min_signals must be between 1 and 3")
	}
	if c.B2CBoundary <= 0 || c.B2BBoundary <= 0 {
		return fmt.Errorf("assembly boundaries must be positive")
	}
	if c.Workers < 0 {
		return fmt.Errorf("assembly.workers must not be negative")
	}
	if c.BackupEveryTouchpoints <= 0 {
		return fmt.Errorf("backup.every_touchpoints must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}

// parsePatterns returns nil for an empty list so the engine falls back to its default catalog.
func parsePatterns(rawPatterns []string) ([]journeys.Pattern, error) {
	if len(rawPatterns) == 0 {
		return nil, nil
	}
	patterns := make([]journeys.Pattern, 0, len(rawPatterns))
	for _, rawPattern := range rawPatterns {
		pattern, err := journeys.ParsePattern(rawPattern)
		if err != nil {
			return nil, fmt.Errorf("assembly.patterns: %w", err)
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}
