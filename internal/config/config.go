package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Chapsvision-dev/spare/internal/fault"
	"github.com/Chapsvision-dev/spare/internal/retry"
)

// Provider names understood by validate.
const (
	ProviderGoogleDrive = "google-drive"
	ProviderAzureBlob   = "azure-blob"
)

const defaultAuthTimeout = 5 * time.Minute

type Config struct {
	ConfigPath string
	DataDir    string
	TokenPath  string

	// AuthTimeout bounds the interactive authorization step.
	AuthTimeout time.Duration

	Profile Profile

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryEnableJitter bool
}

// Profile is one named backup unit from the [profiles] table.
type Profile struct {
	Name            string      `mapstructure:"-"`
	Provider        string      `mapstructure:"provider"`
	CredentialsPath string      `mapstructure:"credentials_path"`
	Destination     string      `mapstructure:"destination"`
	Sources         []string    `mapstructure:"sources"`
	Versions        int         `mapstructure:"versions"`
	StrictSources   bool        `mapstructure:"strict_sources"`
	Azure           AzureConfig `mapstructure:"azure"`
}

type AzureConfig struct {
	Account   string `mapstructure:"account"`
	Container string `mapstructure:"container"`
	Endpoint  string `mapstructure:"endpoint"`
	SASToken  string `mapstructure:"sas_token"`

	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TenantID     string `mapstructure:"tenant_id"`
}

type fileConfig struct {
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`
	Retry       struct {
		MaxAttempts  int           `mapstructure:"max_attempts"`
		InitialDelay time.Duration `mapstructure:"initial_delay"`
		MaxDelay     time.Duration `mapstructure:"max_delay"`
		Multiplier   float64       `mapstructure:"multiplier"`
		Jitter       bool          `mapstructure:"jitter"`
	} `mapstructure:"retry"`
	Profiles map[string]Profile `mapstructure:"profiles"`
}

// Load reads the TOML config file, selects the named profile and validates it.
// An empty configPath means the default location. Global settings can be
// overridden with SPARE_* env vars (e.g. SPARE_RETRY_MAX_ATTEMPTS).
func Load(configPath, profileName string) (Config, error) {
	if strings.TrimSpace(configPath) == "" {
		configPath = FilePath()
	}

	v := viper.New()
	v.SetEnvPrefix("SPARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("auth_timeout", defaultAuthTimeout)
	v.SetDefault("retry.max_attempts", retry.Default.MaxAttempts)
	v.SetDefault("retry.initial_delay", retry.Default.InitialDelay)
	v.SetDefault("retry.max_delay", retry.Default.MaxDelay)
	v.SetDefault("retry.multiplier", retry.Default.Multiplier)
	v.SetDefault("retry.jitter", retry.Default.Jitter)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return Config{}, fault.Validation("load config", fmt.Errorf("config file %q not found", configPath))
		}
		return Config{}, fault.Validation("load config", err)
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return Config{}, fault.Validation("decode config", err)
	}

	// Viper folds keys to lower case.
	name := strings.TrimSpace(profileName)
	profile, ok := fc.Profiles[strings.ToLower(name)]
	if name == "" || !ok {
		return Config{}, fault.Validationf("profile %q does not exist", name)
	}
	profile.Name = name
	profile.Provider = strings.ToLower(strings.TrimSpace(profile.Provider))
	profile.CredentialsPath = expandHome(strings.TrimSpace(profile.CredentialsPath))
	for i, s := range profile.Sources {
		profile.Sources[i] = expandHome(s)
	}
	profile.Azure.applyEnv()

	authTimeout := fc.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = defaultAuthTimeout
	}

	cfg := Config{
		ConfigPath:  configPath,
		DataDir:     DataDir(),
		TokenPath:   TokenPath(),
		AuthTimeout: authTimeout,
		Profile:     profile,

		RetryMaxAttempts:  fc.Retry.MaxAttempts,
		RetryInitialDelay: fc.Retry.InitialDelay,
		RetryMaxDelay:     fc.Retry.MaxDelay,
		RetryMultiplier:   fc.Retry.Multiplier,
		RetryEnableJitter: fc.Retry.Jitter,
	}

	if err := cfg.Profile.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the profile shape and provider-specific requirements.
func (p Profile) Validate() error {
	switch p.Provider {
	case "":
		return fault.Validationf("profile %q: provider is required", p.Name)
	case ProviderGoogleDrive:
		if err := validateFilePath(p.CredentialsPath); err != nil {
			return fault.Validationf("profile %q: credentials_path: %v", p.Name, err)
		}
	case ProviderAzureBlob:
		if p.Azure.Account == "" || p.Azure.Container == "" {
			return fault.Validationf("profile %q: azure.account and azure.container are required", p.Name)
		}
	default:
		return fault.Validationf("profile %q: invalid provider %q, must be one of [%s %s]",
			p.Name, p.Provider, ProviderGoogleDrive, ProviderAzureBlob)
	}
	if p.Versions == 0 {
		return fault.Validationf("profile %q: versions must be non-zero", p.Name)
	}
	if _, err := SplitDestination(p.Destination); err != nil {
		return fault.Validationf("profile %q: destination: %v", p.Name, err)
	}
	return nil
}

// SplitDestination turns "backups/laptop" into its folder segments.
// Empty and "." segments are dropped; ".." is rejected.
func SplitDestination(dest string) ([]string, error) {
	var out []string
	for _, seg := range strings.Split(filepath.ToSlash(dest), "/") {
		switch strings.TrimSpace(seg) {
		case "", ".":
			continue
		case "..":
			return nil, fmt.Errorf("%q: parent segments are not allowed", dest)
		}
		out = append(out, seg)
	}
	return out, nil
}

// RetryOptions converts retry-related config values to retry.Options.
func (c Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxAttempts:  c.RetryMaxAttempts,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
		Jitter:       c.RetryEnableJitter,
	}
}

// applyEnv fills unset secrets from the usual AZURE_* variables.
func (a *AzureConfig) applyEnv() {
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = strings.TrimSpace(os.Getenv(key))
		}
	}
	fill(&a.Account, "AZURE_STORAGE_ACCOUNT")
	fill(&a.Container, "AZURE_STORAGE_CONTAINER")
	fill(&a.Endpoint, "AZURE_BLOB_ENDPOINT")
	fill(&a.SASToken, "AZURE_STORAGE_SAS")
	fill(&a.ClientID, "AZURE_CLIENT_ID")
	fill(&a.ClientSecret, "AZURE_CLIENT_SECRET")
	fill(&a.TenantID, "AZURE_TENANT_ID")
}

func validateFilePath(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("path %q does not exist", path)
		}
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("path %q is not a file", path)
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
