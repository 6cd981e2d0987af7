// Package collectors samples kernel-side capture statistics and bus events
// into the metrics package.
package collectors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/uvccore/internal/logging"
	"github.com/smazurov/uvccore/internal/metrics"
)

// DefaultUVCDebugfs is where uvcvideo publishes per-stream statistics.
const DefaultUVCDebugfs = "/sys/kernel/debug/usb/uvcvideo"

// UVCStatsCollector polls uvcvideo's debugfs stats files.
type UVCStatsCollector struct {
	logger   logging.Logger
	root     string
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewUVCStatsCollector creates a collector reading below root.
func NewUVCStatsCollector(root string, interval time.Duration) *UVCStatsCollector {
	if root == "" {
		root = DefaultUVCDebugfs
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &UVCStatsCollector{
		logger:   logging.GetLogger(logging.ModuleMetrics),
		root:     root,
		interval: interval,
	}
}

// Start begins collecting. A missing debugfs directory is not an error;
// the collector then does nothing.
func (c *UVCStatsCollector) Start(ctx context.Context) error {
	if _, err := os.Stat(c.root); err != nil {
		c.logger.Debug("uvcvideo stats unavailable", "path", c.root, "error", err)
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
	return nil
}

// Stop stops the collector and waits for the poll loop to exit.
func (c *UVCStatsCollector) Stop() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	return nil
}

func (c *UVCStatsCollector) run(ctx context.Context) {
	defer close(c.done)
	c.logger.Info("Starting uvcvideo stats collection", "path", c.root, "interval", c.interval)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// collect reads every <stream>/stats file once.
func (c *UVCStatsCollector) collect() {
	files, err := filepath.Glob(filepath.Join(c.root, "*", "stats"))
	if err != nil {
		c.logger.Warn("Failed to list uvcvideo stats", "error", err)
		return
	}
	for _, path := range files {
		stream := filepath.Base(filepath.Dir(path))
		stats, err := readStats(path)
		if err != nil {
			c.logger.Warn("Failed to read uvcvideo stats", "stream", stream, "error", err)
			continue
		}
		for name, value := range stats {
			metrics.SetUVCStat(stream, name, value)
		}
	}
}

func readStats(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseStats(f)
}

// parseStats reads the "name: value" counter lines of a stats file. Lines
// with other shapes (pts, scr, sof summaries) are skipped.
func parseStats(r io.Reader) (map[string]float64, error) {
	stats := make(map[string]float64)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name, value, err := parseStatLine(scanner.Text())
		if err != nil {
			continue
		}
		stats[name] = value
	}
	return stats, scanner.Err()
}

func parseStatLine(line string) (string, float64, error) {
	name, rest, ok := strings.Cut(strings.TrimSpace(line), ":")
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return "", 0, fmt.Errorf("not a counter line")
	}
	fields := strings.Fields(rest)
	if len(fields) != 1 {
		return "", 0, fmt.Errorf("not a counter line")
	}
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", 0, err
	}
	return name, value, nil
}
