package config_test

import (
	"testing"

	"github.com/downfa11-org/segment-store/pkg/config"
	"github.com/downfa11-org/segment-store/util"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Normalize()

	if cfg.LogDir != "segment-store-data" {
		t.Errorf("LogDir default incorrect: %q", cfg.LogDir)
	}
	if cfg.SegmentSize != 1<<30 {
		t.Errorf("SegmentSize default incorrect: %d", cfg.SegmentSize)
	}
	if cfg.CommitLeastPages != 4 {
		t.Errorf("CommitLeastPages default incorrect: %d", cfg.CommitLeastPages)
	}
	if cfg.FlushLeastPages != 4 {
		t.Errorf("FlushLeastPages default incorrect: %d", cfg.FlushLeastPages)
	}
	if cfg.ForceShutdownMS != 1000 {
		t.Errorf("ForceShutdownMS default incorrect: %d", cfg.ForceShutdownMS)
	}
	if cfg.ExporterPort != 9100 {
		t.Errorf("ExporterPort default incorrect: %d", cfg.ExporterPort)
	}
}

func TestNormalizeClampsInvalidSegmentSize(t *testing.T) {
	cfg := &config.Config{SegmentSize: 100}
	cfg.Normalize()

	if cfg.SegmentSize != 1<<30 {
		t.Errorf("SegmentSize should fall back to 1GiB for a too-small value, got %d", cfg.SegmentSize)
	}
}

func TestNormalizeDerivesStagingPoolSizeFromSegmentSize(t *testing.T) {
	cfg := &config.Config{SegmentSize: 1 << 20}
	cfg.Normalize()

	if cfg.StagingPoolSize != 1<<20 {
		t.Errorf("StagingPoolSize should default to SegmentSize, got %d", cfg.StagingPoolSize)
	}
}

func TestLogLevelJSONUnmarshal(t *testing.T) {
	var lvl util.LogLevel
	data := []byte(`"warn"`)
	if err := lvl.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if lvl != util.LogLevelWarn {
		t.Errorf("lvl = %v, want LogLevelWarn", lvl)
	}
}
