package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultLogLevel                 = "info"
	DefaultHTTPPort                 = 8080
	DefaultStreamInterval           = 5 * time.Second
	DefaultMirrorBackend            = "badger"
	DefaultMirrorPath               = "data/mirror"
	DefaultQueueSize                = 1024
	DefaultWriteTimeout             = 5 * time.Second
	DefaultEvalInterval             = 30 * time.Second
	DefaultStaleThresholdMultiplier = 1.5
	DefaultConcurrency              = 4
	DefaultRequestTimeout           = 10 * time.Second
	DefaultAlertCooldown            = 15 * time.Minute
)

// Config is the top-level hydrowatch configuration.
type Config struct {
	Log     LogConfig    `yaml:"log"`
	Server  ServerConfig `yaml:"server"`
	Mirror  MirrorConfig `yaml:"mirror"`
	Alerts  AlertsConfig `yaml:"alerts"`
	Sources []Source     `yaml:"sources" validate:"dive"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// ServerConfig holds the status API settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port" validate:"min=1,max=65535"`

	// Auth configures how the server authenticates incoming REST API requests.
	Auth ServerAuthConfig `yaml:"auth"`

	// StreamInterval is how often the WebSocket hub broadcasts statuses.
	StreamInterval time.Duration `yaml:"stream_interval" validate:"gt=0"`
}

// ServerAuthConfig configures REST API authentication.
type ServerAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode" validate:"omitempty,oneof=apikey none"`

	// Header carries the key. Defaults to X-API-Key.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable holding the expected API key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the server API key resolved from the environment.
func (a ServerAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// MirrorConfig selects and tunes the durable health mirror.
type MirrorConfig struct {
	// Backend is one of: badger | memory.
	Backend string `yaml:"backend" validate:"oneof=badger memory"`

	// Path is the badger data directory.
	Path string `yaml:"path"`

	// QueueSize bounds the asynchronous write queue.
	QueueSize int `yaml:"queue_size" validate:"min=1"`

	// WriteTimeout bounds one write-through against the store.
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	// EvalInterval is how often rules are evaluated against all statuses.
	EvalInterval time.Duration   `yaml:"eval_interval" validate:"gt=0"`
	Rules        []AlertRule     `yaml:"rules" validate:"dive"`
	Webhooks     []WebhookConfig `yaml:"webhooks" validate:"dive"`
}

// AlertRule defines one alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name" validate:"required"`

	// Condition is a simple expression: "status == UNHEALTHY",
	// "validity == EXPIRED", "failure_count > 3", "avg_duration_ms > 5000".
	Condition string `yaml:"condition" validate:"required"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity" validate:"omitempty,oneof=critical warning info"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type" validate:"oneof=teams slack http"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env" validate:"required"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Source describes one monitored external data source.
type Source struct {
	// ID is a unique identifier; it becomes the adapter id.
	ID string `yaml:"id" validate:"required,source_id"`

	// Name is the human-readable source name.
	Name string `yaml:"name"`

	// DataSource groups sources by the logical dataset they feed.
	DataSource string `yaml:"data_source" validate:"required"`

	// Type selects the adapter: json_series | exposition.
	Type string `yaml:"type" validate:"oneof=json_series exposition"`

	// SourceType is a free-form label of the upstream provider.
	SourceType string `yaml:"source_type"`

	// Endpoint is the URL fetched. For json_series, "{id}" is replaced by
	// the item id.
	Endpoint string `yaml:"endpoint" validate:"required,url"`

	// FetchIntervalMinutes is the expected cadence of the source.
	FetchIntervalMinutes float64 `yaml:"fetch_interval_minutes" validate:"gt=0"`

	// StaleThresholdMultiplier scales the interval into the EXPIRED bound.
	StaleThresholdMultiplier float64 `yaml:"stale_threshold_multiplier" validate:"gte=1"`

	// Concurrency bounds in-flight item requests.
	Concurrency int `yaml:"concurrency" validate:"min=1"`

	// RatePerSecond paces item requests. Zero disables pacing.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`

	// Timeout bounds one HTTP request.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// Metric names the indicator kind the source produces.
	Metric string `yaml:"metric"`

	// Unit of the produced indicator values.
	Unit string `yaml:"unit"`

	// Series configures how json_series payloads are read.
	Series SeriesConfig `yaml:"series"`

	// Items are the units of work of one run (stations, series, metrics).
	Items []Item `yaml:"items" validate:"min=1,dive"`

	// Auth configures how hydrowatch authenticates to this source.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// HealthConfig returns the cadence the health registry tracks for s.
func (s Source) HealthConfig() types.AdapterHealthConfig {
	name := s.Name
	if name == "" {
		name = s.ID
	}
	return types.AdapterHealthConfig{
		AdapterID:                s.ID,
		Name:                     name,
		DataSource:               s.DataSource,
		SourceType:               s.SourceType,
		SourceURL:                s.Endpoint,
		FetchIntervalMinutes:     s.FetchIntervalMinutes,
		StaleThresholdMultiplier: s.StaleThresholdMultiplier,
	}
}

// Interval returns the fetch cadence as a duration.
func (s Source) Interval() time.Duration {
	return time.Duration(s.FetchIntervalMinutes * float64(time.Minute))
}

// Item is one unit of work of a source.
type Item struct {
	ID         string            `yaml:"id" validate:"required"`
	Name       string            `yaml:"name"`
	Attributes map[string]string `yaml:"attributes"`
}

// SeriesConfig locates readings inside a json_series payload.
type SeriesConfig struct {
	// DataField is the top-level key holding the readings array. Empty means
	// the payload itself is the array.
	DataField string `yaml:"data_field"`

	// ValueField and TimeField name the reading fields. Defaults: value, timestamp.
	ValueField string `yaml:"value_field"`
	TimeField  string `yaml:"time_field"`
}

// AuthConfig specifies the authentication mode for a source.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode" validate:"omitempty,oneof=mtls apikey bearer basic none"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header the API key is sent in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth username.
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds per-source TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse yaml")
	}
	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	return cfg, nil
}

// Defaults returns a Config holding only default values.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{Level: DefaultLogLevel},
		Server: ServerConfig{
			HTTPPort:       DefaultHTTPPort,
			StreamInterval: DefaultStreamInterval,
		},
		Mirror: MirrorConfig{
			Backend:      DefaultMirrorBackend,
			Path:         DefaultMirrorPath,
			QueueSize:    DefaultQueueSize,
			WriteTimeout: DefaultWriteTimeout,
		},
		Alerts: AlertsConfig{EvalInterval: DefaultEvalInterval},
	}
}

func sourceDefaults() Source {
	return Source{
		StaleThresholdMultiplier: DefaultStaleThresholdMultiplier,
		Concurrency:              DefaultConcurrency,
		Timeout:                  DefaultRequestTimeout,
		Series:                   SeriesConfig{ValueField: "value", TimeField: "timestamp"},
	}
}

// applyDefaults fills zero-valued fields of cfg and of every source.
func applyDefaults(cfg *Config) error {
	if err := mergo.Merge(cfg, Defaults()); err != nil {
		return errors.Wrap(err, "config: apply defaults")
	}
	sd := sourceDefaults()
	for i := range cfg.Sources {
		if err := mergo.Merge(&cfg.Sources[i], sd); err != nil {
			return errors.Wrapf(err, "config: apply defaults to sources[%d]", i)
		}
		if cfg.Sources[i].Name == "" {
			cfg.Sources[i].Name = cfg.Sources[i].ID
		}
	}
	for i := range cfg.Alerts.Rules {
		if cfg.Alerts.Rules[i].Cooldown == 0 {
			cfg.Alerts.Rules[i].Cooldown = DefaultAlertCooldown
		}
	}
	return nil
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	sourceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("source_id", func(fl validator.FieldLevel) bool {
			return sourceIDPattern.MatchString(fl.Field().String())
		})
		validateInst = v
	})
	return validateInst
}

// validate checks field constraints and cross-field rules.
func validate(cfg *Config) error {
	if err := validatorInstance().Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	seen := make(map[string]int, len(cfg.Sources))
	for i, src := range cfg.Sources {
		if j, dup := seen[src.ID]; dup {
			return errors.Newf("sources[%d]: duplicate id %q (also sources[%d])", i, src.ID, j)
		}
		seen[src.ID] = i

		if src.Type == "json_series" && len(src.Items) > 1 && !strings.Contains(src.Endpoint, "{id}") {
			return errors.WithHint(
				errors.Newf("sources[%d] %q: endpoint must contain {id} for multiple items", i, src.ID),
				"json_series fetches one URL per item; put {id} where the item id belongs")
		}
		switch src.Auth.Mode {
		case "mtls":
			if src.Auth.CertFile == "" || src.Auth.KeyFile == "" {
				return errors.Newf("sources[%d] %q: mtls requires cert_file and key_file", i, src.ID)
			}
		case "apikey":
			if src.Auth.Header == "" || src.Auth.KeyEnv == "" {
				return errors.Newf("sources[%d] %q: apikey requires header and key_env", i, src.ID)
			}
		}
	}

	if cfg.Server.Auth.Mode == "apikey" && cfg.Server.Auth.KeyEnv == "" {
		return errors.New("server.auth: apikey mode requires key_env")
	}
	if cfg.Mirror.Backend == "badger" && cfg.Mirror.Path == "" {
		return errors.New("mirror.path is required for the badger backend")
	}
	return nil
}

// convertValidationError turns validator output into one readable error
// naming the first offending field.
func convertValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	msg := fmt.Sprintf("%s: failed %q", field, fe.Tag())
	if fe.Param() != "" {
		msg = fmt.Sprintf("%s: failed %q (%s)", field, fe.Tag(), fe.Param())
	}
	if len(verrs) > 1 {
		msg = fmt.Sprintf("%s, and %d more", msg, len(verrs)-1)
	}
	return errors.New(msg)
}
