package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/adform-extractor/internal/failure"
	"github.com/sells-group/adform-extractor/internal/model"
)

// Load types accepted by destination.load_type.
const (
	FullLoad        = "full_load"
	IncrementalLoad = "incremental_load"
)

// DefaultDatasets is used when source.datasets is not configured.
var DefaultDatasets = []string{"Click", "Impression", "Trackingpoint", "Event"}

// Config holds the job configuration and the connector settings.
type Config struct {
	Parameters    Parameters     `mapstructure:"parameters"`
	Authorization Authorization  `mapstructure:"authorization"`
	Platform      PlatformConfig `mapstructure:"platform"`
	Log           LogConfig      `mapstructure:"log"`
	API           APIConfig      `mapstructure:"api"`
	Engine        EngineConfig   `mapstructure:"engine"`
	Staging       StagingConfig  `mapstructure:"staging"`
	Retry         RetryConfig    `mapstructure:"retry"`
	RunLog        RunLogConfig   `mapstructure:"runlog"`
	Mirror        MirrorConfig   `mapstructure:"mirror"`

	// DataDir is the Keboola data directory the config was loaded from.
	DataDir string `mapstructure:"-"`
}

// Parameters are the user-facing job parameters.
type Parameters struct {
	Source      Source      `mapstructure:"source"`
	Destination Destination `mapstructure:"destination"`
	Debug       bool        `mapstructure:"debug"`
}

// Source selects the files to extract.
type Source struct {
	SetupID       string   `mapstructure:"setup_id" validate:"required"`
	DaysInterval  *int     `mapstructure:"days_interval" validate:"required,gte=0"`
	HoursInterval *int     `mapstructure:"hours_interval" validate:"required,gte=0"`
	DateTo        string   `mapstructure:"date_to"`
	Datasets      []string `mapstructure:"datasets" validate:"min=1,dive,required"`
	FileCharset   string   `mapstructure:"file_charset" validate:"required"`
	MetaFiles     []string `mapstructure:"meta_files" validate:"dive,required"`
}

// Destination controls how output tables are loaded.
type Destination struct {
	LoadType     string         `mapstructure:"load_type" validate:"oneof=full_load incremental_load"`
	OverridePKey []PKeyOverride `mapstructure:"override_pkey" validate:"dive"`
}

// Incremental reports whether output tables are loaded incrementally.
func (d Destination) Incremental() bool {
	return d.LoadType != FullLoad
}

// PrimaryKeyFor returns the override primary key for a dataset, if any.
func (d Destination) PrimaryKeyFor(dataset string) ([]string, bool) {
	for _, o := range d.OverridePKey {
		if o.Dataset == dataset {
			return o.PKey, true
		}
	}
	return nil, false
}

// PKeyOverride replaces the inferred primary key of one dataset.
type PKeyOverride struct {
	Dataset string   `mapstructure:"dataset" validate:"required"`
	PKey    []string `mapstructure:"pkey" validate:"min=1,dive,required"`
}

// Authorization is the OAuth block injected by the platform.
type Authorization struct {
	OAuthAPI *OAuthAPI `mapstructure:"oauth_api"`
}

// OAuthAPI holds the authorized OAuth application and its stored tokens.
type OAuthAPI struct {
	ID          string           `mapstructure:"id"`
	Credentials OAuthCredentials `mapstructure:"credentials"`
}

// OAuthCredentials mirrors authorization.oauth_api.credentials.
type OAuthCredentials struct {
	ID           string `mapstructure:"id"`
	AppKey       string `mapstructure:"appKey"`
	AppSecret    string `mapstructure:"#appSecret"`
	LegacyKey    string `mapstructure:"app_key"`
	LegacySecret string `mapstructure:"#app_secret"`
	Data         string `mapstructure:"#data"`
}

// PlatformConfig is read from the KBC_* environment variables.
type PlatformConfig struct {
	URL         string `mapstructure:"url"`
	Token       string `mapstructure:"token"`
	ProjectID   string `mapstructure:"project_id"`
	ConfigID    string `mapstructure:"config_id"`
	ComponentID string `mapstructure:"component_id"`
	BranchID    string `mapstructure:"branch_id"`
	StackID     string `mapstructure:"stack_id"`
}

// RemoteStateEnabled reports whether the remote configuration state can be written.
func (p PlatformConfig) RemoteStateEnabled() bool {
	return p.URL != "" && p.Token != "" && p.ConfigID != "" && p.ComponentID != ""
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig configures the Adform API clients.
type APIConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	TokenURL    string  `mapstructure:"token_url"`
	TimeoutSecs int     `mapstructure:"timeout_secs"`
	RateLimit   float64 `mapstructure:"rate_limit"`
	PageSize    int     `mapstructure:"page_size"`
}

// EngineConfig bounds the embedded query engine.
type EngineConfig struct {
	Threads     int    `mapstructure:"threads"`
	MemoryLimit string `mapstructure:"memory_limit"`
	SampleSize  int    `mapstructure:"sample_size"`
}

// MemoryLimitSize parses MemoryLimit.
func (e EngineConfig) MemoryLimitSize() (datasize.ByteSize, error) {
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(e.MemoryLimit)); err != nil {
		return 0, eris.Wrapf(err, "config: parse engine.memory_limit %q", e.MemoryLimit)
	}
	return size, nil
}

// StagingConfig locates the per-run scratch directories.
type StagingConfig struct {
	TempRoot string `mapstructure:"temp_root"`
}

// RetryConfig overrides the token store retry policy. Zero keeps the default.
type RetryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	InitialBackoffMs int `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `mapstructure:"max_backoff_ms"`
}

// RunLogConfig enables the local sqlite run history.
type RunLogConfig struct {
	Path string `mapstructure:"path"`
}

// MirrorConfig enables loading output tables into Postgres.
type MirrorConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
	Schema      string `mapstructure:"schema"`
}

// Load reads <dataDir>/config.json and the environment.
func Load(dataDir string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(filepath.Join(dataDir, "config.json"))
	v.SetConfigType("json")

	v.SetEnvPrefix("ADFORM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range map[string]string{
		"platform.url":          "KBC_URL",
		"platform.token":        "KBC_TOKEN",
		"platform.project_id":   "KBC_PROJECTID",
		"platform.config_id":    "KBC_CONFIGID",
		"platform.component_id": "KBC_COMPONENTID",
		"platform.branch_id":    "KBC_BRANCHID",
		"platform.stack_id":     "KBC_STACKID",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", env)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, failure.Wrap(failure.ConfigValidation, err, "config.json is not valid JSON")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, failure.Wrap(failure.ConfigValidation, err, "config.json has unexpected structure")
	}
	cfg.DataDir = dataDir

	if len(cfg.Parameters.Source.Datasets) == 0 {
		cfg.Parameters.Source.Datasets = append([]string(nil), DefaultDatasets...)
	}
	if cfg.Parameters.Debug {
		cfg.Log.Level = "debug"
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("parameters.source.file_charset", "UTF-8")
	v.SetDefault("parameters.destination.load_type", IncrementalLoad)
	v.SetDefault("parameters.debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("api.base_url", "https://api.adform.com")
	v.SetDefault("api.token_url", "https://id.adform.com/sts/connect/token")
	v.SetDefault("api.timeout_secs", 300)
	v.SetDefault("api.rate_limit", 5)
	v.SetDefault("api.page_size", 1000)
	v.SetDefault("engine.threads", 1)
	v.SetDefault("engine.memory_limit", "400MB")
	v.SetDefault("engine.sample_size", -1)
	v.SetDefault("staging.temp_root", filepath.Join(os.TempDir(), "adform-extractor"))
	v.SetDefault("retry.max_attempts", 0)
	v.SetDefault("retry.initial_backoff_ms", 0)
	v.SetDefault("retry.max_backoff_ms", 0)
	v.SetDefault("runlog.path", "")
	v.SetDefault("mirror.database_url", "")
	v.SetDefault("mirror.schema", "adform")
}

// Credential resolves the OAuth application and the authorized refresh token.
func (a Authorization) Credential() (model.Credential, error) {
	if a.OAuthAPI == nil || (a.OAuthAPI.ID == "" && a.OAuthAPI.Credentials == (OAuthCredentials{})) {
		return model.Credential{}, failure.New(failure.ConfigValidation, "For component run, please authenticate.")
	}
	c := a.OAuthAPI.Credentials

	clientID, secret := c.AppKey, c.AppSecret
	if clientID == "" || secret == "" {
		clientID, secret = c.LegacyKey, c.LegacySecret
	}
	if clientID == "" || secret == "" {
		return model.Credential{}, failure.Validation([]failure.FieldError{
			{Field: "authorization.oauth_api.credentials", Message: "app key and secret are required"},
		})
	}

	var data struct {
		RefreshToken string `json:"refresh_token"`
	}
	if c.Data != "" {
		if err := json.Unmarshal([]byte(c.Data), &data); err != nil {
			return model.Credential{}, failure.Wrap(failure.ConfigValidation, err, "authorization data is not valid JSON")
		}
	}

	return model.Credential{
		ClientID:     clientID,
		ClientSecret: secret,
		AuthorityID:  c.ID,
		RefreshToken: data.RefreshToken,
	}, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
