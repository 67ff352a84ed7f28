// Command segstore is an interactive REPL over a directory of segments,
// in the teacher's cmd/cli style: a bufio.Scanner loop dispatching single
// line commands, useful for poking at the store by hand or scripting a
// smoke test.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/downfa11-org/segment-store/pkg/callback"
	"github.com/downfa11-org/segment-store/pkg/config"
	"github.com/downfa11-org/segment-store/pkg/metrics"
	"github.com/downfa11-org/segment-store/pkg/segment"
	"github.com/downfa11-org/segment-store/pkg/stagingpool"
	"github.com/downfa11-org/segment-store/util"
)

type session struct {
	cfg     *config.Config
	active  *segment.Segment
	pool    *stagingpool.Pool
	encoder *callback.Encoder
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Println("failed to load config:", err)
		os.Exit(1)
	}

	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	}

	s := &session{
		cfg:     cfg,
		encoder: callback.NewEncoder(func() int64 { return time.Now().UnixMilli() }),
	}
	if cfg.StagingPoolEnabled {
		s.pool = stagingpool.New(int(cfg.SegmentSize))
	}

	fmt.Println("segment-store ready. Type HELP for commands.")
	fmt.Println("")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, "EXIT") {
			break
		}
		if line == "" {
			continue
		}
		fmt.Println(s.handle(line))
	}
}

func (s *session) handle(line string) string {
	fields := strings.Fields(line)
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch cmd {
	case "HELP":
		return "OPEN <offset> | APPEND <key> <text> | COMMIT [minPages] | FLUSH [minPages] | " +
			"WARMUP | INSPECT | MLOCK | MUNLOCK | DESTROY"

	case "OPEN":
		if len(args) < 1 {
			return "usage: OPEN <offset>"
		}
		offset, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Sprintf("bad offset %q: %v", args[0], err)
		}
		path := filepath.Join(s.cfg.LogDir, fmt.Sprintf("%020d", offset))
		var pool segment.StagingPool
		if s.pool != nil {
			pool = s.pool
		}
		seg, err := segment.Init(path, s.cfg.SegmentSize, pool)
		if err != nil {
			return fmt.Sprintf("open failed: %v", err)
		}
		s.active = seg
		return fmt.Sprintf("opened %s (size=%d)", path, s.cfg.SegmentSize)

	case "APPEND":
		if s.active == nil {
			return "no segment open, use OPEN first"
		}
		if len(args) < 2 {
			return "usage: APPEND <key> <text...>"
		}
		msg := callback.NewMessage(args[0], []byte(strings.Join(args[1:], " ")))
		result := s.active.AppendEncoded(msg, s.encoder)
		return fmt.Sprintf("status=%d wrote=%d ts=%d", result.Status, result.WroteBytes, result.StoreTimestamp)

	case "COMMIT":
		if s.active == nil {
			return "no segment open, use OPEN first"
		}
		minPages := s.cfg.CommitLeastPages
		if len(args) > 0 {
			if v, err := strconv.Atoi(args[0]); err == nil {
				minPages = v
			}
		}
		committed := s.active.Commit(minPages)
		metrics.ObserveCommit()
		return fmt.Sprintf("committed=%d", committed)

	case "FLUSH":
		if s.active == nil {
			return "no segment open, use OPEN first"
		}
		minPages := s.cfg.FlushLeastPages
		if len(args) > 0 {
			if v, err := strconv.Atoi(args[0]); err == nil {
				minPages = v
			}
		}
		start := time.Now()
		flushed := s.active.Flush(minPages)
		metrics.ObserveFlush(time.Since(start).Seconds())
		return fmt.Sprintf("flushed=%d", flushed)

	case "WARMUP":
		if s.active == nil {
			return "no segment open, use OPEN first"
		}
		flushType := segment.AsyncFlush
		if s.cfg.MlockOnWarmUp {
			flushType = segment.SyncFlush
		}
		s.active.WarmUp(flushType, 1<<12)
		return "warmed up"

	case "MLOCK":
		if s.active == nil {
			return "no segment open, use OPEN first"
		}
		s.active.Mlock()
		return "mlocked"

	case "MUNLOCK":
		if s.active == nil {
			return "no segment open, use OPEN first"
		}
		s.active.Munlock()
		return "munlocked"

	case "INSPECT":
		if s.active == nil {
			return "no segment open, use OPEN first"
		}
		return fmt.Sprintf("%s wrote=%d committed=%d flushed=%d full=%v",
			s.active.FileName(), s.active.WrotePosition(), s.active.CommittedPosition(),
			s.active.FlushedPosition(), s.active.IsFull())

	case "DESTROY":
		if s.active == nil {
			return "no segment open, use OPEN first"
		}
		ok, forced := s.active.Destroy(int64(s.cfg.ForceShutdownMS))
		if forced {
			metrics.ObserveForcedShutdown()
		}
		if ok {
			util.Info("destroyed %s", s.active.FileName())
			s.active = nil
			return "destroyed"
		}
		return "destroy deferred: readers still active, retry"

	default:
		return fmt.Sprintf("unknown command %q, try HELP", cmd)
	}
}
