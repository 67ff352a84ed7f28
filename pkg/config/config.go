// Package config loads segment-store's tunables the way the teacher
// broker's pkg/config does: flag defaults, an optional CONFIG_PATH
// override file (YAML or JSON, picked by extension), then a Normalize
// pass that clamps anything a human or a bad file handed us.
package config

import (
	"encoding/json"
	"flag"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/downfa11-org/segment-store/util"
)

// Config is segment-store's full set of runtime tunables.
type Config struct {
	LogDir   string        `yaml:"log_dir" json:"log.dir"`
	LogLevel util.LogLevel `yaml:"log_level" json:"log_level"`

	SegmentSize      int64 `yaml:"segment_size" json:"segment.size"`
	CommitLeastPages int   `yaml:"commit_least_pages" json:"commit.least.pages"`
	FlushLeastPages  int   `yaml:"flush_least_pages" json:"flush.least.pages"`

	StagingPoolEnabled bool `yaml:"staging_pool_enabled" json:"staging.pool.enabled"`
	StagingPoolSize    int  `yaml:"staging_pool_size" json:"staging.pool.size"`

	MlockOnWarmUp     bool `yaml:"mlock_on_warm_up" json:"mlock.on.warm_up"`
	ForceShutdownMS   int  `yaml:"force_shutdown_ms" json:"force.shutdown.ms"`
	CleanupIntervalMS int  `yaml:"cleanup_interval_ms" json:"cleanup.interval.ms"`

	EnableExporter bool `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int  `yaml:"exporter_port" json:"exporter.port"`
}

// LoadConfig parses flags, applies an optional CONFIG_PATH override file,
// lets explicitly-set flags win over the file, then normalizes.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	configPath := flag.String("config", "", "Path to YAML/JSON config file")
	logDirStr := flag.String("log-dir", "segment-store-data", "Directory holding segment files")
	logLevelStr := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	segmentSizeStr := flag.String("segment-size", "1073741824", "Segment file size in bytes (default: 1GiB)")
	commitLeastPagesStr := flag.String("commit-least-pages", "4", "Minimum dirty pages before a commit is allowed")
	flushLeastPagesStr := flag.String("flush-least-pages", "4", "Minimum committed pages before a flush is allowed")
	stagingEnabledStr := flag.String("staging-pool", "false", "Stage writes through a pooled buffer before committing")
	stagingPoolSizeStr := flag.String("staging-pool-size", "1073741824", "Staging buffer size in bytes, must match segment size")
	mlockStr := flag.String("mlock-on-warm-up", "false", "Warm up with periodic msync (SyncFlush); warm-up mlocks the pages either way")
	forceShutdownStr := flag.String("force-shutdown-ms", "1000", "Grace period before forcibly reclaiming a segment's readers")
	cleanupIntervalStr := flag.String("cleanup-interval-ms", "10000", "Interval between retention sweeps in milliseconds")
	exporterStr := flag.String("exporter", "true", "Enable Prometheus exporter")
	exporterPortStr := flag.String("exporter-port", "9100", "Exporter port")

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	flag.Parse()

	applyDefaults(cfg, logDirStr, logLevelStr, segmentSizeStr, commitLeastPagesStr,
		flushLeastPagesStr, stagingEnabledStr, stagingPoolSizeStr, mlockStr,
		forceShutdownStr, cleanupIntervalStr, exporterStr, exporterPortStr)

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(*configPath, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyExplicitFlags(cfg, logDirStr, logLevelStr, segmentSizeStr, commitLeastPagesStr,
		flushLeastPagesStr, stagingEnabledStr, stagingPoolSizeStr, mlockStr,
		forceShutdownStr, cleanupIntervalStr, exporterStr, exporterPortStr)

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)

	return cfg, nil
}

func parseLogLevel(s string) util.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return util.LogLevelDebug
	case "warn", "warning":
		return util.LogLevelWarn
	case "error":
		return util.LogLevelError
	default:
		return util.LogLevelInfo
	}
}

func applyDefaults(cfg *Config, logDirStr, logLevelStr, segmentSizeStr, commitLeastPagesStr,
	flushLeastPagesStr, stagingEnabledStr, stagingPoolSizeStr, mlockStr,
	forceShutdownStr, cleanupIntervalStr, exporterStr, exporterPortStr *string) {

	cfg.LogDir = *logDirStr
	cfg.LogLevel = parseLogLevel(*logLevelStr)

	cfg.SegmentSize = int64(util.ParseInt(*segmentSizeStr, 1<<30))
	cfg.CommitLeastPages = util.ParseInt(*commitLeastPagesStr, 4)
	cfg.FlushLeastPages = util.ParseInt(*flushLeastPagesStr, 4)
	cfg.StagingPoolEnabled = util.ParseBool(*stagingEnabledStr, false)
	cfg.StagingPoolSize = util.ParseInt(*stagingPoolSizeStr, 1<<30)
	cfg.MlockOnWarmUp = util.ParseBool(*mlockStr, false)
	cfg.ForceShutdownMS = util.ParseInt(*forceShutdownStr, 1000)
	cfg.CleanupIntervalMS = util.ParseInt(*cleanupIntervalStr, 10000)
	cfg.EnableExporter = util.ParseBool(*exporterStr, true)
	cfg.ExporterPort = util.ParseInt(*exporterPortStr, 9100)
}

func applyExplicitFlags(cfg *Config, logDirStr, logLevelStr, segmentSizeStr, commitLeastPagesStr,
	flushLeastPagesStr, stagingEnabledStr, stagingPoolSizeStr, mlockStr,
	forceShutdownStr, cleanupIntervalStr, exporterStr, exporterPortStr *string) {

	if *logDirStr != "segment-store-data" {
		cfg.LogDir = *logDirStr
	}
	if *logLevelStr != "info" {
		cfg.LogLevel = parseLogLevel(*logLevelStr)
	}
	if *segmentSizeStr != "1073741824" {
		cfg.SegmentSize = int64(util.ParseInt(*segmentSizeStr, int(cfg.SegmentSize)))
	}
	if *commitLeastPagesStr != "4" {
		cfg.CommitLeastPages = util.ParseInt(*commitLeastPagesStr, cfg.CommitLeastPages)
	}
	if *flushLeastPagesStr != "4" {
		cfg.FlushLeastPages = util.ParseInt(*flushLeastPagesStr, cfg.FlushLeastPages)
	}
	if *stagingEnabledStr != "false" {
		cfg.StagingPoolEnabled = util.ParseBool(*stagingEnabledStr, cfg.StagingPoolEnabled)
	}
	if *stagingPoolSizeStr != "1073741824" {
		cfg.StagingPoolSize = util.ParseInt(*stagingPoolSizeStr, cfg.StagingPoolSize)
	}
	if *mlockStr != "false" {
		cfg.MlockOnWarmUp = util.ParseBool(*mlockStr, cfg.MlockOnWarmUp)
	}
	if *forceShutdownStr != "1000" {
		cfg.ForceShutdownMS = util.ParseInt(*forceShutdownStr, cfg.ForceShutdownMS)
	}
	if *cleanupIntervalStr != "10000" {
		cfg.CleanupIntervalMS = util.ParseInt(*cleanupIntervalStr, cfg.CleanupIntervalMS)
	}
	if *exporterStr != "true" {
		cfg.EnableExporter = util.ParseBool(*exporterStr, cfg.EnableExporter)
	}
	if *exporterPortStr != "9100" {
		cfg.ExporterPort = util.ParseInt(*exporterPortStr, cfg.ExporterPort)
	}
}

// Normalize clamps invalid or missing values to sane defaults, the same
// defensive pass the teacher's Config.Normalize performs.
func (cfg *Config) Normalize() {
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = "segment-store-data"
	}
	if cfg.SegmentSize < 4096 {
		cfg.SegmentSize = 1 << 30
	}
	if cfg.CommitLeastPages <= 0 {
		cfg.CommitLeastPages = 4
	}
	if cfg.FlushLeastPages <= 0 {
		cfg.FlushLeastPages = 4
	}
	if cfg.StagingPoolSize <= 0 {
		cfg.StagingPoolSize = int(cfg.SegmentSize)
	}
	if cfg.ForceShutdownMS <= 0 {
		cfg.ForceShutdownMS = 1000
	}
	if cfg.CleanupIntervalMS <= 0 {
		cfg.CleanupIntervalMS = 10000
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}
}
