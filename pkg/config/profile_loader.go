package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TuningProfile is a deployment-specific set of dispatch and resiliency
// knobs, loaded from a YAML file. Zero values fall back to the package
// defaults of the component they configure.
type TuningProfile struct {
	Name     string         `yaml:"name" json:"name"`
	Code     string         `yaml:"code" json:"code"`
	Dispatch DispatchConfig `yaml:"dispatch" json:"dispatch"`
	Breakers BreakerConfig  `yaml:"breakers" json:"breakers"`
	Retry    RetryConfig    `yaml:"retry" json:"retry"`
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
}

// DispatchConfig tunes command dispatch timing.
type DispatchConfig struct {
	AckTimeout  time.Duration `yaml:"ack_timeout" json:"ack_timeout"`
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period"`
}

// BreakerConfig tunes the messaging and push circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// RetryConfig tunes the push retry queue.
type RetryConfig struct {
	DrainInterval time.Duration `yaml:"drain_interval" json:"drain_interval"`
	Grace         time.Duration `yaml:"grace" json:"grace"`
	MaxAge        time.Duration `yaml:"max_age" json:"max_age"`
	Cap           int           `yaml:"cap" json:"cap"`
	OpsTokens     []string      `yaml:"ops_tokens,omitempty" json:"ops_tokens,omitempty"`
	RatePerSecond float64       `yaml:"rate_per_second" json:"rate_per_second"`
}

// HTTPConfig tunes the API surface.
type HTTPConfig struct {
	RequestsPerSecond float64  `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int      `yaml:"burst" json:"burst"`
	AllowedOrigins    []string `yaml:"allowed_origins,omitempty" json:"allowed_origins,omitempty"`
}

// DefaultProfile returns the built-in tuning used when no profile is
// configured.
func DefaultProfile() *TuningProfile {
	return &TuningProfile{
		Name: "default",
		Code: "default",
	}
}

// LoadProfile loads a tuning profile YAML by code. It reads
// profile_<code>.yaml from the profiles directory.
func LoadProfile(profilesDir, code string) (*TuningProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile TuningProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml file from the profiles
// directory, keyed by code.
func LoadAllProfiles(profilesDir string) (map[string]*TuningProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*TuningProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile TuningProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_staging.yaml -> staging
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}
