package eventlog_test

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/e2eforge/forge/pkg/eventlog"
	"github.com/e2eforge/forge/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	log, err := eventlog.New(eventlog.Config{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	day := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, log.Append(model.Event{Type: model.EventTaskQueued, TS: day, Payload: model.TaskQueuedPayload{TaskID: "t-1"}}))
	require.NoError(t, log.Append(model.Event{Type: model.EventAgentStarted, TS: day, Payload: model.AgentStartedPayload{TaskID: "t-1"}}))
	require.NoError(t, log.Close())

	path := filepath.Join(dir, "events-2026-07-30.log")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		lines++
	}
	require.Equal(t, 2, lines)
}

func TestAppendRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	log, err := eventlog.New(eventlog.Config{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	day1 := time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 31, 0, 1, 0, 0, time.UTC)
	require.NoError(t, log.Append(model.Event{Type: model.EventTaskQueued, TS: day1}))
	require.NoError(t, log.Append(model.Event{Type: model.EventTaskQueued, TS: day2}))

	_, err = os.Stat(filepath.Join(dir, "events-2026-07-30.log"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "events-2026-07-31.log"))
	require.NoError(t, err)
}

func TestRunRetentionCompressesAndDeletesByAge(t *testing.T) {
	dir := t.TempDir()
	log, err := eventlog.New(eventlog.Config{Dir: dir, CompressAfterDays: 7, DeleteAfterDays: 30})
	require.NoError(t, err)

	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	fresh := now.AddDate(0, 0, -1)
	compressible := now.AddDate(0, 0, -10)
	deletable := now.AddDate(0, 0, -40)

	require.NoError(t, log.Append(model.Event{Type: model.EventTaskQueued, TS: fresh}))
	require.NoError(t, log.Append(model.Event{Type: model.EventTaskQueued, TS: compressible}))
	require.NoError(t, log.Append(model.Event{Type: model.EventTaskQueued, TS: deletable}))
	require.NoError(t, log.Close())

	require.NoError(t, log.RunRetention(now))

	_, err = os.Stat(filepath.Join(dir, "events-"+fresh.Format("2006-01-02")+".log"))
	require.NoError(t, err, "fresh file should remain uncompressed")

	_, err = os.Stat(filepath.Join(dir, "events-"+compressible.Format("2006-01-02")+".log.gz"))
	require.NoError(t, err, "old-enough file should be compressed")
	_, err = os.Stat(filepath.Join(dir, "events-"+compressible.Format("2006-01-02")+".log"))
	require.True(t, os.IsNotExist(err), "uncompressed original should be removed")

	_, err = os.Stat(filepath.Join(dir, "events-"+deletable.Format("2006-01-02")+".log"))
	require.True(t, os.IsNotExist(err), "too-old file should be deleted")

	gz, err := os.Open(filepath.Join(dir, "events-"+compressible.Format("2006-01-02")+".log.gz"))
	require.NoError(t, err)
	defer gz.Close()
	gr, err := gzip.NewReader(gz)
	require.NoError(t, err)
	defer gr.Close()
}
