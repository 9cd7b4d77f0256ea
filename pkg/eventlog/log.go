// Package eventlog is the durable, daily-rotated copy of the event
// stream (spec §6: "rotated append-only log file (daily file,
// compressed after N days, deleted after M days)"). No pack repo
// imports a rotation library (e.g. lumberjack); this is a deliberate
// standard-library component built on compress/gzip and os, grounded
// on the retention-window shape of the teacher's
// pkg/cleanup/service.go ticker loop — see DESIGN.md.
package eventlog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/e2eforge/forge/pkg/model"
)

// Config parameterises rotation and retention.
type Config struct {
	Dir               string
	CompressAfterDays int
	DeleteAfterDays   int
}

// Log appends Events to a daily file, one JSON object per line.
type Log struct {
	cfg Config

	mu   sync.Mutex
	file *os.File
	day  string
}

// New opens (or creates) the event log directory.
func New(cfg Config) (*Log, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	return &Log{cfg: cfg}, nil
}

func (l *Log) pathFor(day string) string {
	return filepath.Join(l.cfg.Dir, fmt.Sprintf("events-%s.log", day))
}

// Append writes one Event as a JSON line to today's file, rotating to
// a new file automatically when the day changes.
func (l *Log) Append(ev model.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := ev.TS.UTC().Format("2006-01-02")
	if l.file == nil || day != l.day {
		if l.file != nil {
			_ = l.file.Close()
		}
		f, err := os.OpenFile(l.pathFor(day), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open event log file: %w", err)
		}
		l.file = f
		l.day = day
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close closes the currently open file, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// RunRetention compresses files older than CompressAfterDays and
// deletes files older than DeleteAfterDays, relative to now. Intended
// to be called on a schedule (e.g. hourly) by the cleanup loop that
// owns pkg/eventlog's Config.CleanupInterval.
func (l *Log) RunRetention(now time.Time) error {
	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		return fmt.Errorf("read event log dir: %w", err)
	}

	type dated struct {
		name string
		day  time.Time
	}
	var files []dated
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		day, ok := parseLogDay(e.Name())
		if !ok {
			continue
		}
		files = append(files, dated{name: e.Name(), day: day})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].day.Before(files[j].day) })

	for _, f := range files {
		age := now.Sub(f.day)
		path := filepath.Join(l.cfg.Dir, f.name)

		if l.cfg.DeleteAfterDays > 0 && age >= time.Duration(l.cfg.DeleteAfterDays)*24*time.Hour {
			if err := os.Remove(path); err != nil {
				slog.Error("eventlog: delete failed", "file", f.name, "error", err)
			}
			continue
		}

		if l.cfg.CompressAfterDays > 0 && age >= time.Duration(l.cfg.CompressAfterDays)*24*time.Hour &&
			!strings.HasSuffix(f.name, ".gz") {
			if err := compressFile(path); err != nil {
				slog.Error("eventlog: compress failed", "file", f.name, "error", err)
			}
		}
	}
	return nil
}

func parseLogDay(name string) (time.Time, bool) {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".log")
	const prefix = "events-"
	if !strings.HasPrefix(base, prefix) {
		return time.Time{}, false
	}
	day, err := time.Parse("2006-01-02", strings.TrimPrefix(base, prefix))
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func compressFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open for compress: %w", err)
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return fmt.Errorf("create compressed file: %w", err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		return fmt.Errorf("write compressed data: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}
	if err := in.Close(); err != nil {
		return fmt.Errorf("close source file: %w", err)
	}
	return os.Remove(path)
}
