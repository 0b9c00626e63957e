package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logger       LoggerConfig       `yaml:"logger"`
	Redis        RedisConfig        `yaml:"redis"`
	Datastore    DatastoreConfig    `yaml:"datastore"`
	Repo         RepoConfig         `yaml:"repo"`
	Engine       EngineConfig       `yaml:"engine"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Watcher      WatcherConfig      `yaml:"watcher"`
	DotRoach     DotRoachConfig     `yaml:"dotroach"`
	Notification NotificationConfig `yaml:"notification"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // optional, if empty, auth is disabled
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RedisConfig Redis configuration. Empty Addr disables the status cache and
// makes distributed locks fall back to single-instance mode.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatastoreConfig dataset registry database
type DatastoreConfig struct {
	Driver      string `yaml:"driver"` // mysql, sqlite
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	Path        string `yaml:"path"` // sqlite file
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c DatastoreConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RepoConfig data repository layout used by the ingestion backend and pipelines
type RepoConfig struct {
	Root          string `yaml:"root"`           // butler repository
	Instrument    string `yaml:"instrument"`     // instrument class name
	RawCollection string `yaml:"raw_collection"` // run collection raw files are ingested into
	Chain         string `yaml:"chain"`          // chained collection extended after each ingest
	Calib         string `yaml:"calib"`          // calibration collection
	Rerun         string `yaml:"rerun"`          // output run collection for reductions
	PfsConfigDir  string `yaml:"pfs_config_dir"`
	IngestMode    string `yaml:"ingest_mode"` // link, copy
}

// SettingsConfig runtime toggles, each independently settable at runtime
type SettingsConfig struct {
	DoAutoIngest               bool `yaml:"do_auto_ingest" json:"doAutoIngest"`
	DoAutoDetrend              bool `yaml:"do_auto_detrend" json:"doAutoDetrend"`
	DoAutoReduce               bool `yaml:"do_auto_reduce" json:"doAutoReduce"`
	DoDetectorMapQa            bool `yaml:"do_detector_map_qa" json:"doDetectorMapQa"`
	DoExtractionQa             bool `yaml:"do_extraction_qa" json:"doExtractionQa"`
	DoCopyDesignToPfsConfigDir bool `yaml:"do_copy_design_to_pfs_config_dir" json:"doCopyDesignToPfsConfigDir"`
}

// PipelinesConfig pipeline definition per stage
type PipelinesConfig struct {
	Detrend       string `yaml:"detrend"`
	Reduce        string `yaml:"reduce"`
	DetectorMapQa string `yaml:"detector_map_qa"`
	ExtractionQa  string `yaml:"extraction_qa"`
	Extract       string `yaml:"extract"`
}

// EngineConfig orchestrator configuration
type EngineConfig struct {
	Settings         SettingsConfig  `yaml:"settings"`
	Pipelines        PipelinesConfig `yaml:"pipelines"`
	NumWorkers       int             `yaml:"num_workers"`  // worker pool size
	NumProc          int             `yaml:"num_proc"`     // processes per pipeline run
	TaskThreads      int             `yaml:"task_threads"` // threads per pipeline task
	FailFast         bool            `yaml:"fail_fast"`
	Granularity      string          `yaml:"granularity"`        // visit, exposure
	ResultTimeoutMs  int             `yaml:"result_timeout_ms"`  // wait for products after a job exits
	SleepIntervalMs  int             `yaml:"sleep_interval_ms"`  // datastore sampling interval
	LeftoverInterval int             `yaml:"leftover_interval"`  // leftover sweep (seconds)
	StatusRetention  int             `yaml:"status_retention"`   // status history retention (days)
}

// ResultTimeout returns the product wait timeout.
func (c EngineConfig) ResultTimeout() time.Duration {
	return time.Duration(c.ResultTimeoutMs) * time.Millisecond
}

// SleepInterval returns the product sampling interval.
func (c EngineConfig) SleepInterval() time.Duration {
	return time.Duration(c.SleepIntervalMs) * time.Millisecond
}

// ExecutorConfig worker pool backend
type ExecutorConfig struct {
	Backend string         `yaml:"backend"` // local, k8s, queue
	K8s     K8sJobConfig   `yaml:"k8s"`
	Queue   QueueConfig    `yaml:"queue"`
	Command CommandsConfig `yaml:"commands"`
}

// CommandsConfig external programs called by workers
type CommandsConfig struct {
	Butler   string `yaml:"butler"`
	Pipetask string `yaml:"pipetask"`
	Measure  string `yaml:"measure"` // flux extraction program used by dot-roach
}

// K8sJobConfig Kubernetes Job runner configuration
type K8sJobConfig struct {
	Namespace      string `yaml:"namespace"`
	Image          string `yaml:"image"`
	ServiceAccount string `yaml:"service_account"`
	TemplatePath   string `yaml:"template_path"` // optional Job template (yaml)
	PollInterval   int    `yaml:"poll_interval"` // seconds
}

// QueueConfig asynq queue configuration
type QueueConfig struct {
	Concurrency int `yaml:"concurrency"`  // worker process concurrency
	MaxRetry    int `yaml:"max_retry"`    // maximum retry count
	TaskTimeout int `yaml:"task_timeout"` // task timeout (seconds)
}

// WatcherConfig raw file watcher
type WatcherConfig struct {
	Enabled bool   `yaml:"enabled"`
	RawRoot string `yaml:"raw_root"`
	Pattern string `yaml:"pattern"`
}

// DotRoachConfig convergence loop tuning
type DotRoachConfig struct {
	GoalThreshold     float64 `yaml:"goal_threshold"`
	GainThreshold     float64 `yaml:"gain_threshold"`
	OvershootRatio    float64 `yaml:"overshoot_ratio"`
	ProcessTimeout    int     `yaml:"process_timeout"`     // seconds
	Round0Overhead    int     `yaml:"round0_overhead"`     // seconds
	DefaultMonitoring float64 `yaml:"default_monitoring"`  // reference used when no monitoring actuator reports
}

// NotificationConfig alert webhook
type NotificationConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	validateAndApplyDefaults(cfg)
	return cfg
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	validateAndApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the settings that have no sensible default.
func (c *Config) Validate() error {
	switch c.Datastore.Driver {
	case "mysql":
		if c.Datastore.Host == "" || c.Datastore.Database == "" {
			return fmt.Errorf("datastore: mysql requires host and database")
		}
	case "sqlite":
		if c.Datastore.Path == "" {
			return fmt.Errorf("datastore: sqlite requires path")
		}
	default:
		return fmt.Errorf("datastore: unsupported driver %q", c.Datastore.Driver)
	}

	if c.Repo.Root == "" {
		return fmt.Errorf("repo: root is required")
	}
	if c.Repo.IngestMode != "link" && c.Repo.IngestMode != "copy" {
		return fmt.Errorf("repo: ingest_mode must be link or copy, got %q", c.Repo.IngestMode)
	}

	switch c.Executor.Backend {
	case "local", "queue":
	case "k8s":
		if c.Executor.K8s.Image == "" && c.Executor.K8s.TemplatePath == "" {
			return fmt.Errorf("executor: k8s backend requires image or template_path")
		}
	default:
		return fmt.Errorf("executor: unsupported backend %q", c.Executor.Backend)
	}
	if c.Executor.Backend == "queue" && c.Redis.Addr == "" {
		return fmt.Errorf("executor: queue backend requires redis.addr")
	}

	if c.Engine.Granularity != "visit" && c.Engine.Granularity != "exposure" {
		return fmt.Errorf("engine: granularity must be visit or exposure, got %q", c.Engine.Granularity)
	}

	if c.Watcher.Enabled && c.Watcher.RawRoot == "" {
		return fmt.Errorf("watcher: raw_root is required when enabled")
	}
	return nil
}

// validateAndApplyDefaults replaces missing or invalid values with defaults.
func validateAndApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "console"
	}
	if cfg.Logger.File.Path == "" {
		cfg.Logger.File.Path = "logs/drpactor.log"
	}
	if cfg.Logger.File.MaxSizeMB <= 0 {
		cfg.Logger.File.MaxSizeMB = 100
	}
	if cfg.Logger.File.MaxBackups <= 0 {
		cfg.Logger.File.MaxBackups = 10
	}
	if cfg.Logger.File.MaxAgeDays <= 0 {
		cfg.Logger.File.MaxAgeDays = 30
	}

	if cfg.Datastore.Driver == "" {
		cfg.Datastore.Driver = "sqlite"
	}
	if cfg.Datastore.Driver == "sqlite" && cfg.Datastore.Path == "" {
		cfg.Datastore.Path = "data/registry.sqlite3"
	}
	if cfg.Datastore.Driver == "mysql" && cfg.Datastore.Port <= 0 {
		cfg.Datastore.Port = 3306
	}

	if cfg.Repo.Root == "" {
		cfg.Repo.Root = "/work/drp"
	}
	if cfg.Repo.Instrument == "" {
		cfg.Repo.Instrument = "lsst.obs.pfs.PrimeFocusSpectrograph"
	}
	if cfg.Repo.RawCollection == "" {
		cfg.Repo.RawCollection = "PFS/raw/all"
	}
	if cfg.Repo.Calib == "" {
		cfg.Repo.Calib = "PFS/calib"
	}
	if cfg.Repo.Rerun == "" {
		cfg.Repo.Rerun = "drpActor"
	}
	if cfg.Repo.IngestMode == "" {
		cfg.Repo.IngestMode = "link"
	}

	if cfg.Engine.NumWorkers <= 0 {
		cfg.Engine.NumWorkers = 4
	}
	if cfg.Engine.NumProc <= 0 {
		cfg.Engine.NumProc = 1
	}
	if cfg.Engine.TaskThreads <= 0 {
		cfg.Engine.TaskThreads = 1
	}
	if cfg.Engine.Granularity == "" {
		cfg.Engine.Granularity = "visit"
	}
	if cfg.Engine.ResultTimeoutMs <= 0 {
		cfg.Engine.ResultTimeoutMs = 10000
	}
	if cfg.Engine.SleepIntervalMs <= 0 {
		cfg.Engine.SleepIntervalMs = 100
	}
	if cfg.Engine.LeftoverInterval <= 0 {
		cfg.Engine.LeftoverInterval = 300
	}
	if cfg.Engine.StatusRetention <= 0 {
		cfg.Engine.StatusRetention = 30
	}
	if cfg.Engine.Pipelines.Detrend == "" {
		cfg.Engine.Pipelines.Detrend = "$DRP_STELLA_DIR/pipelines/detrend.yaml"
	}
	if cfg.Engine.Pipelines.Reduce == "" {
		cfg.Engine.Pipelines.Reduce = "$DRP_STELLA_DIR/pipelines/reduceExposure.yaml"
	}
	if cfg.Engine.Pipelines.DetectorMapQa == "" {
		cfg.Engine.Pipelines.DetectorMapQa = "$DRP_QA_DIR/pipelines/detectorMapQa.yaml"
	}
	if cfg.Engine.Pipelines.ExtractionQa == "" {
		cfg.Engine.Pipelines.ExtractionQa = "$DRP_QA_DIR/pipelines/extractionQa.yaml"
	}

	if cfg.Executor.Backend == "" {
		cfg.Executor.Backend = "local"
	}
	if cfg.Executor.Command.Butler == "" {
		cfg.Executor.Command.Butler = "butler"
	}
	if cfg.Executor.Command.Pipetask == "" {
		cfg.Executor.Command.Pipetask = "pipetask"
	}
	if cfg.Executor.Command.Measure == "" {
		cfg.Executor.Command.Measure = "measureFiberFlux.py"
	}
	if cfg.Executor.K8s.Namespace == "" {
		cfg.Executor.K8s.Namespace = "drp"
	}
	if cfg.Executor.K8s.PollInterval <= 0 {
		cfg.Executor.K8s.PollInterval = 5
	}
	if cfg.Executor.Queue.Concurrency <= 0 {
		cfg.Executor.Queue.Concurrency = cfg.Engine.NumWorkers
	}
	if cfg.Executor.Queue.TaskTimeout <= 0 {
		cfg.Executor.Queue.TaskTimeout = 3600
	}
	if cfg.Executor.Queue.MaxRetry < 0 {
		cfg.Executor.Queue.MaxRetry = 0
	}

	if cfg.Watcher.Pattern == "" {
		cfg.Watcher.Pattern = "PFSA*.fits"
	}

	if cfg.DotRoach.GoalThreshold <= 0 {
		cfg.DotRoach.GoalThreshold = 0.003
	}
	if cfg.DotRoach.GainThreshold <= 0 {
		cfg.DotRoach.GainThreshold = 0.05
	}
	if cfg.DotRoach.OvershootRatio <= 0 || cfg.DotRoach.OvershootRatio >= 1 {
		cfg.DotRoach.OvershootRatio = 0.5
	}
	if cfg.DotRoach.ProcessTimeout <= 0 {
		cfg.DotRoach.ProcessTimeout = 15
	}
	if cfg.DotRoach.Round0Overhead <= 0 {
		cfg.DotRoach.Round0Overhead = 20
	}
	if cfg.DotRoach.DefaultMonitoring <= 0 {
		cfg.DotRoach.DefaultMonitoring = 1
	}
}
