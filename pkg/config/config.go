// Package config loads and validates the replicator's YAML configuration.
// Credentials never live in the file: the config names the environment
// variables the api keys are read from.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvConfigFile names the config file when no positional argument is
// given.
const EnvConfigFile = "COGNITE_CONFIG_FILE"

const envPrefix = "COGNITE"

// Resource is one replicable resource type named in the config.
type Resource string

const (
	// ResourceAll enables every resource except ResourceSequenceRows,
	// whose destination overwrite only runs when asked for by name.
	ResourceAll           Resource = "all"
	ResourceAssets        Resource = "assets"
	ResourceEvents        Resource = "events"
	ResourceTimeSeries    Resource = "timeseries"
	ResourceFiles         Resource = "files"
	ResourceSequences     Resource = "sequences"
	ResourceSequenceRows  Resource = "sequence_rows"
	ResourceRelationships Resource = "relationships"
	ResourceRaw           Resource = "raw"
	ResourceDatapoints    Resource = "datapoints"
)

var knownResources = []Resource{
	ResourceAll,
	ResourceAssets,
	ResourceEvents,
	ResourceTimeSeries,
	ResourceFiles,
	ResourceSequences,
	ResourceSequenceRows,
	ResourceRelationships,
	ResourceRaw,
	ResourceDatapoints,
}

// Config is the decoded replicator configuration.
type Config struct {
	// SrcAPIKeyEnvVar and DstAPIKeyEnvVar name the environment
	// variables holding the projects' api keys.
	SrcAPIKeyEnvVar string `mapstructure:"src_api_key_env_var"`
	DstAPIKeyEnvVar string `mapstructure:"dst_api_key_env_var"`
	// SrcProject and DstProject, when set, must match the project the
	// corresponding api key logs in to.
	SrcProject string `mapstructure:"src_project"`
	DstProject string `mapstructure:"dst_project"`
	SrcBaseURL string `mapstructure:"src_base_url"`
	DstBaseURL string `mapstructure:"dst_base_url"`

	ClientName    string        `mapstructure:"client_name"`
	ClientTimeout time.Duration `mapstructure:"client_timeout"`
	// RequestsPerSecond throttles each client. Zero means unthrottled.
	RequestsPerSecond int `mapstructure:"requests_per_second"`

	Resources []Resource `mapstructure:"resources"`

	BatchSize       int `mapstructure:"batch_size"`
	NumberOfThreads int `mapstructure:"number_of_threads"`

	// ResyncDestinationTenant turns on both delete flags below.
	ResyncDestinationTenant bool `mapstructure:"resync_destination_tenant"`
	DeleteIfRemovedInSource bool `mapstructure:"delete_if_removed_in_source"`
	DeleteIfNotReplicated   bool `mapstructure:"delete_if_not_replicated"`

	LogPath   string `mapstructure:"log_path"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Assets        AssetsConfig        `mapstructure:"assets"`
	Events        EventsConfig        `mapstructure:"events"`
	TimeSeries    TimeSeriesConfig    `mapstructure:"timeseries"`
	Sequences     SequencesConfig     `mapstructure:"sequences"`
	SequenceRows  SequenceRowsConfig  `mapstructure:"sequence_rows"`
	Relationships RelationshipsConfig `mapstructure:"relationships"`
	Datapoints    DatapointsConfig    `mapstructure:"datapoints"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

// TelemetryConfig points the replicator at an OpenTelemetry collector.
// With an empty endpoint, span and log export stay off.
type TelemetryConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	// CACertPath names a PEM file holding the collector's CA. CACert
	// carries the same PEM inline, base64 raw-url encoded. At most one
	// of the two may be set.
	CACertPath string `mapstructure:"ca_cert_path"`
	CACert     string `mapstructure:"ca_cert"`
	Insecure   bool   `mapstructure:"insecure"`
	// MetricsPath enables periodic JSON metric dumps into the given
	// file.
	MetricsPath string `mapstructure:"metrics_path"`
}

type AssetsConfig struct {
	SubtreeIDs         []int64  `mapstructure:"subtree_ids"`
	SubtreeExternalIDs []string `mapstructure:"subtree_external_ids"`
	SubtreeMaxDepth    int      `mapstructure:"subtree_max_depth"`
	// SkipOrphans drops assets whose parent is absent from the
	// destination instead of adopting them as roots.
	SkipOrphans bool `mapstructure:"skip_orphans"`
}

type EventsConfig struct {
	ExternalIDs    []string `mapstructure:"external_ids"`
	ExcludePattern Pattern  `mapstructure:"exclude_pattern"`
	SkipUnlinkable bool     `mapstructure:"skip_unlinkable"`
	SkipNonAsset   bool     `mapstructure:"skip_non_asset"`
}

type TimeSeriesConfig struct {
	ExternalIDs    []string `mapstructure:"external_ids"`
	ExcludePattern Pattern  `mapstructure:"exclude_pattern"`
	ExcludeFields  []string `mapstructure:"exclude_fields"`
	SkipUnlinkable bool     `mapstructure:"skip_unlinkable"`
	SkipNonAsset   bool     `mapstructure:"skip_non_asset"`
}

type SequencesConfig struct {
	ExternalIDs    []string `mapstructure:"external_ids"`
	ExcludePattern Pattern  `mapstructure:"exclude_pattern"`
	SkipUnlinkable bool     `mapstructure:"skip_unlinkable"`
	SkipNonAsset   bool     `mapstructure:"skip_non_asset"`
}

type SequenceRowsConfig struct {
	BatchSize      int      `mapstructure:"batch_size"`
	ExternalIDs    []string `mapstructure:"external_ids"`
	ExcludePattern Pattern  `mapstructure:"exclude_pattern"`
	MockRun        bool     `mapstructure:"mock_run"`
}

type RelationshipsConfig struct {
	ExternalIDs []string `mapstructure:"external_ids"`
	// DatasetSupport resolves source data set ids into destination data
	// sets instead of dropping them.
	DatasetSupport bool `mapstructure:"dataset_support"`
}

type DatapointsConfig struct {
	Limit          int             `mapstructure:"limit"`
	ExternalIDs    []string        `mapstructure:"external_ids"`
	ExcludePattern Pattern         `mapstructure:"exclude_pattern"`
	MockRun        bool            `mapstructure:"mock_run"`
	Transform      TransformConfig `mapstructure:"transform"`
}

// TransformConfig names a registered datapoint transform and its
// parameter.
type TransformConfig struct {
	Name  string  `mapstructure:"name"`
	Value float64 `mapstructure:"value"`
}

// Pattern is a regular expression compiled while the config is decoded,
// so a bad pattern fails the load instead of the run.
type Pattern struct {
	*regexp.Regexp
}

// String returns the pattern source, or "" when unset.
func (p Pattern) String() string {
	if p.Regexp == nil {
		return ""
	}
	return p.Regexp.String()
}

// StringToPatternHookFunc decodes strings into Pattern values.
func StringToPatternHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(Pattern{}) {
			return data, nil
		}
		s := data.(string)
		if s == "" {
			return Pattern{}, nil
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("compiling exclude pattern %q: %w", s, err)
		}
		return Pattern{Regexp: re}, nil
	}
}

// LoadOption adjusts how Load assembles the configuration.
type LoadOption func(*viper.Viper)

// WithFlags lets changed command line flags override file and
// environment values. Flag names map to config keys with dashes
// replaced by underscores.
func WithFlags(fs *pflag.FlagSet) LoadOption {
	return func(v *viper.Viper) {
		fs.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			_ = v.BindPFlag(key, f)
		})
	}
}

// Load reads the YAML config at path, applies defaults and environment
// overrides, and validates the result. An empty path falls back to the
// file named by COGNITE_CONFIG_FILE.
func Load(path string, opts ...LoadOption) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		return nil, fmt.Errorf("no config file given and %s is not set", EnvConfigFile)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for _, opt := range opts {
		opt(v)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		StringToPatternHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decoding config file %s: %w", path, err)
	}

	if cfg.ResyncDestinationTenant {
		cfg.DeleteIfRemovedInSource = true
		cfg.DeleteIfNotReplicated = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("src_api_key_env_var", "COGNITE_SOURCE_API_KEY")
	v.SetDefault("dst_api_key_env_var", "COGNITE_DESTINATION_API_KEY")
	v.SetDefault("src_base_url", "https://api.cognitedata.com")
	v.SetDefault("dst_base_url", "https://api.cognitedata.com")
	v.SetDefault("client_name", "cognite-replicator")
	v.SetDefault("client_timeout", "120s")
	v.SetDefault("batch_size", 10000)
	v.SetDefault("number_of_threads", 1)
	v.SetDefault("log_path", "log")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// Validate collects every configuration problem instead of stopping at
// the first one.
func (c *Config) Validate() error {
	var errs []error

	if c.SrcAPIKeyEnvVar == "" {
		errs = append(errs, errors.New("src_api_key_env_var must not be empty"))
	}
	if c.DstAPIKeyEnvVar == "" {
		errs = append(errs, errors.New("dst_api_key_env_var must not be empty"))
	}
	if c.SrcProject == "" {
		errs = append(errs, errors.New("src_project must not be empty"))
	}
	if c.DstProject == "" {
		errs = append(errs, errors.New("dst_project must not be empty"))
	}
	if len(c.Resources) == 0 {
		errs = append(errs, errors.New("resources must name at least one resource type"))
	}
	for _, r := range c.Resources {
		known := false
		for _, k := range knownResources {
			if r == k {
				known = true
				break
			}
		}
		if !known {
			errs = append(errs, fmt.Errorf("unknown resource %q", r))
		}
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.NumberOfThreads <= 0 {
		errs = append(errs, fmt.Errorf("number_of_threads must be positive, got %d", c.NumberOfThreads))
	}
	if c.ClientTimeout <= 0 {
		errs = append(errs, fmt.Errorf("client_timeout must be positive, got %s", c.ClientTimeout))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("requests_per_second must not be negative, got %d", c.RequestsPerSecond))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	if len(c.SequenceRows.ExternalIDs) > 0 && c.SequenceRows.ExcludePattern.Regexp != nil {
		errs = append(errs, errors.New("sequence_rows: external_ids and exclude_pattern are mutually exclusive"))
	}
	if c.Telemetry.CACertPath != "" && c.Telemetry.CACert != "" {
		errs = append(errs, errors.New("telemetry: ca_cert_path and ca_cert are mutually exclusive"))
	}

	return errors.Join(errs...)
}

// Enabled reports whether the resource list includes r, directly or via
// "all".
func (c *Config) Enabled(r Resource) bool {
	for _, res := range c.Resources {
		if res == r {
			return true
		}
		if res == ResourceAll && r != ResourceSequenceRows {
			return true
		}
	}
	return false
}
