package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Launcher      LauncherConfig      `yaml:"launcher" mapstructure:"launcher"`
	OCR           OCRConfig           `yaml:"ocr" mapstructure:"ocr"`
	LocalInfer    LocalInferConfig    `yaml:"local_infer" mapstructure:"local_infer"`
	External      ExternalConfig      `yaml:"external" mapstructure:"external"`
	Budget        BudgetConfig        `yaml:"budget" mapstructure:"budget"`
	Delivery      DeliveryConfig      `yaml:"delivery" mapstructure:"delivery"`
	Resource      ResourceConfig      `yaml:"resource" mapstructure:"resource"`
	Review        ReviewConfig        `yaml:"review" mapstructure:"review"`
	Correspondent CorrespondentConfig `yaml:"correspondent" mapstructure:"correspondent"`
	Rules         RulesConfig         `yaml:"rules" mapstructure:"rules"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the shared work store.
type StoreConfig struct {
	Root             string `yaml:"root" mapstructure:"root"`
	StaleLockTTLSecs int    `yaml:"stale_lock_ttl_secs" mapstructure:"stale_lock_ttl_secs"`
}

// LauncherConfig configures per-host instance management. Ranges assigns
// each machine tag its half-open slot range; a machine absent from the map
// gets the whole input.
type LauncherConfig struct {
	MachineTag       string           `yaml:"machine_tag" mapstructure:"machine_tag"`
	Instances        map[string]int   `yaml:"instances" mapstructure:"instances"`
	Ranges           map[string][]int `yaml:"ranges" mapstructure:"ranges"`
	GraceSecs        int            `yaml:"grace_secs" mapstructure:"grace_secs"`
	PidDir           string         `yaml:"pid_dir" mapstructure:"pid_dir"`
	RespectThrottle  bool           `yaml:"respect_throttle" mapstructure:"respect_throttle"`
	MaxAutoInstances int            `yaml:"max_auto_instances" mapstructure:"max_auto_instances"`
}

// OCRConfig configures attachment text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	Endpoint      string `yaml:"endpoint" mapstructure:"endpoint"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPages      int    `yaml:"max_pages" mapstructure:"max_pages"`
	Concurrency   int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// LocalInferConfig configures the hierarchical local-inference phase.
type LocalInferConfig struct {
	Endpoint          string `yaml:"endpoint" mapstructure:"endpoint"`
	SmallModel        string `yaml:"small_model" mapstructure:"small_model"`
	MediumModel       string `yaml:"medium_model" mapstructure:"medium_model"`
	LargeModel        string `yaml:"large_model" mapstructure:"large_model"`
	SmallTimeoutSecs  int    `yaml:"small_timeout_secs" mapstructure:"small_timeout_secs"`
	MediumTimeoutSecs int    `yaml:"medium_timeout_secs" mapstructure:"medium_timeout_secs"`
	LargeTimeoutSecs  int    `yaml:"large_timeout_secs" mapstructure:"large_timeout_secs"`
}

// ExternalConfig configures the external large-model phase.
type ExternalConfig struct {
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// BudgetConfig configures the per-day external-model token budget ledger.
type BudgetConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	DailyTokens int64  `yaml:"daily_tokens" mapstructure:"daily_tokens"`
}

// DeliveryConfig configures the downstream document-management service.
type DeliveryConfig struct {
	URL              string `yaml:"url" mapstructure:"url"`
	Token            string `yaml:"token" mapstructure:"token"`
	FanOut           int    `yaml:"fan_out" mapstructure:"fan_out"`
	RetryAttempts    int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffSecs int    `yaml:"retry_backoff_secs" mapstructure:"retry_backoff_secs"`
}

// ResourceConfig configures the resource monitor thresholds.
type ResourceConfig struct {
	SampleIntervalSecs int      `yaml:"sample_interval_secs" mapstructure:"sample_interval_secs"`
	MaxCPUPercent      float64  `yaml:"max_cpu_percent" mapstructure:"max_cpu_percent"`
	MaxRAMPercent      float64  `yaml:"max_ram_percent" mapstructure:"max_ram_percent"`
	MaxGPUPercent      float64  `yaml:"max_gpu_percent" mapstructure:"max_gpu_percent"`
	MinFreeDiskGiB     float64  `yaml:"min_free_disk_gib" mapstructure:"min_free_disk_gib"`
	DiskPaths          []string `yaml:"disk_paths" mapstructure:"disk_paths"`
	NvidiaSmiPath      string   `yaml:"nvidia_smi_path" mapstructure:"nvidia_smi_path"`
}

// ReviewConfig configures the manual-review server.
type ReviewConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// CorrespondentConfig configures correspondent normalization.
type CorrespondentConfig struct {
	KnownMappingsPath string `yaml:"known_mappings_path" mapstructure:"known_mappings_path"`
}

// RulesConfig configures the phase-1 kind classifier tables.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DOCFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.root", "./workstore")
	v.SetDefault("store.stale_lock_ttl_secs", 600)
	v.SetDefault("launcher.machine_tag", "local")
	v.SetDefault("launcher.instances", map[string]int{"1": 4, "2": 2, "3": 1})
	v.SetDefault("launcher.grace_secs", 30)
	v.SetDefault("launcher.pid_dir", "./run")
	v.SetDefault("launcher.respect_throttle", true)
	v.SetDefault("launcher.max_auto_instances", 16)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.timeout_secs", 120)
	v.SetDefault("ocr.max_pages", 30)
	v.SetDefault("ocr.concurrency", 2)
	v.SetDefault("local_infer.endpoint", "http://localhost:11434")
	v.SetDefault("local_infer.small_model", "czech-finance-speed:7.6b")
	v.SetDefault("local_infer.medium_model", "qwen2.5:14b")
	v.SetDefault("local_infer.large_model", "qwen2.5:32b")
	v.SetDefault("local_infer.small_timeout_secs", 60)
	v.SetDefault("local_infer.medium_timeout_secs", 90)
	v.SetDefault("local_infer.large_timeout_secs", 180)
	v.SetDefault("external.api_key", "")
	v.SetDefault("external.model", "claude-opus-4-6")
	v.SetDefault("external.timeout_secs", 120)
	v.SetDefault("external.rate_per_sec", 0.5)
	v.SetDefault("external.rate_burst", 2)
	v.SetDefault("budget.driver", "sqlite")
	v.SetDefault("budget.database_url", "./workstore/budget.db")
	v.SetDefault("budget.daily_tokens", 2_000_000)
	v.SetDefault("delivery.url", "")
	v.SetDefault("delivery.token", "")
	v.SetDefault("delivery.fan_out", 4)
	v.SetDefault("delivery.retry_attempts", 3)
	v.SetDefault("delivery.retry_backoff_secs", 2)
	v.SetDefault("resource.sample_interval_secs", 2)
	v.SetDefault("resource.max_cpu_percent", 85)
	v.SetDefault("resource.max_ram_percent", 85)
	v.SetDefault("resource.max_gpu_percent", 90)
	v.SetDefault("resource.min_free_disk_gib", 10)
	v.SetDefault("resource.nvidia_smi_path", "nvidia-smi")
	v.SetDefault("review.port", 8091)
	v.SetDefault("correspondent.known_mappings_path", "")
	v.SetDefault("rules.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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
