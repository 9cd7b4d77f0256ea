// Package executor runs a generated browser test via an external
// browser-engine subprocess and parses its output into a structured
// outcome (spec §4.4). The subprocess-invocation shape is grounded on
// the teacher's pkg/mcp/transport.go createStdioTransport (exec.Command
// plus inherited-environment-with-overrides), generalised from an MCP
// tool-server launch to a one-shot test run. Every invocation runs
// through a sony/gobreaker breaker so a wedged browser binary cannot
// starve every Task waiting on it.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/e2eforge/forge/pkg/apperr"
)

// Config mirrors pkg/config.ExecutorConfig.
type Config struct {
	DefaultTimeout time.Duration
	BrowserCommand string // e.g. "npx playwright test", split on spaces
	ArtifactsDir   string
	ResultsDir     string
}

// Request is a single run of the browser engine against one test file.
type Request struct {
	TestPath string
	Timeout  time.Duration // overrides Config.DefaultTimeout when non-zero
}

// Outcome is Executor's structured result (spec §4.4 contract).
type Outcome struct {
	BrowserLaunched  bool     `json:"browser_launched"`
	TestExecuted     bool     `json:"test_executed"`
	TestPassed       bool     `json:"test_passed"`
	Screenshots      []string `json:"screenshots"`
	ConsoleErrors    []string `json:"console_errors"`
	NetworkFailures  []string `json:"network_failures"`
	ExecutionTimeMS  int64    `json:"execution_time_ms"`
	Passed           bool     `json:"-"` // hard-rubric verdict, see PassesRubric
}

// Executor runs the configured browser engine as a subprocess.
type Executor struct {
	cfg Config

	mu      sync.Mutex
	breaker *gobreaker.CircuitBreaker
}

// New constructs an Executor.
func New(cfg Config) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 45 * time.Second
	}
	return &Executor{cfg: cfg}
}

func (e *Executor) breakerFor() *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.breaker != nil {
		return e.breaker
	}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "executor:" + e.cfg.BrowserCommand,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return e.breaker
}

// Run launches the browser engine against req.TestPath and parses its
// console/network output and artifact directories into an Outcome.
// Run never rewrites test source (spec §4.4 failure semantics).
func (e *Executor) Run(ctx context.Context, req Request) (Outcome, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	cb := e.breakerFor()
	result, err := cb.Execute(func() (any, error) {
		return e.run(ctx, req.TestPath, timeout)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return Outcome{}, apperr.New(apperr.KindRuntime, "browser engine unavailable, circuit open", err)
		}
		return Outcome{}, err
	}
	return result.(Outcome), nil
}

func (e *Executor) run(ctx context.Context, testPath string, timeout time.Duration) (Outcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fields := strings.Fields(e.cfg.BrowserCommand)
	if len(fields) == 0 {
		return Outcome{}, apperr.New(apperr.KindRuntime, "no browser engine command configured", nil)
	}
	program := fields[0]
	args := append(append([]string{}, fields[1:]...), testPath)

	cmd := exec.CommandContext(runCtx, program, args...)
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	launchErr := cmd.Start()
	outcome := Outcome{}
	if launchErr != nil {
		outcome.BrowserLaunched = false
		return outcome, apperr.New(apperr.KindRuntime, "failed to launch browser engine", launchErr)
	}
	outcome.BrowserLaunched = true

	waitErr := cmd.Wait()
	outcome.ExecutionTimeMS = time.Since(start).Milliseconds()
	outcome.TestExecuted = true

	if runCtx.Err() != nil {
		// Timed out; the process has already been killed by exec.CommandContext.
		outcome.TestPassed = false
		return outcome, nil
	}

	outcome.TestPassed = waitErr == nil
	combined := stdout.String() + "\n" + stderr.String()
	outcome.ConsoleErrors = parseConsoleErrors(combined)
	outcome.NetworkFailures = parseNetworkFailures(combined)

	shots, err := collectScreenshots(e.cfg.ArtifactsDir, e.cfg.ResultsDir)
	if err == nil {
		outcome.Screenshots = shots
	}

	return outcome, nil
}

const maxEntryLen = 200

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxEntryLen {
		return s[:maxEntryLen]
	}
	return s
}

func parseConsoleErrors(output string) []string {
	var errs []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(strings.ToLower(line), "error") {
			errs = append(errs, truncate(line))
		}
	}
	return errs
}

func parseNetworkFailures(output string) []string {
	var fails []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		lower := strings.ToLower(line)
		if strings.Contains(line, "net::") || strings.Contains(line, "ERR_") || strings.Contains(lower, "timeout") {
			fails = append(fails, truncate(line))
		}
	}
	return fails
}

type fileWithTime struct {
	path  string
	mtime time.Time
}

// collectScreenshots returns the union of image files in artifactsDir
// and resultsDir, ordered chronologically by modification time.
func collectScreenshots(artifactsDir, resultsDir string) ([]string, error) {
	var files []fileWithTime
	for _, dir := range []string{artifactsDir, resultsDir} {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !isImageFile(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			files = append(files, fileWithTime{path: filepath.Join(dir, entry.Name()), mtime: info.ModTime()})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })

	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.path)
	}
	return out, nil
}

func isImageFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".png", ".jpg", ".jpeg"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// PassesRubric applies the hard validation rubric (spec §4.4):
// browser_launched ∧ test_executed ∧ test_passed ∧ |screenshots| ≥ 1 ∧
// execution_time_ms ≤ timeoutCap. Console/network signals never fail
// the rubric on their own.
func PassesRubric(o Outcome, timeoutCap time.Duration) bool {
	return o.BrowserLaunched &&
		o.TestExecuted &&
		o.TestPassed &&
		len(o.Screenshots) >= 1 &&
		o.ExecutionTimeMS <= timeoutCap.Milliseconds()
}

// MarshalReport renders outcome as the regression_report.json shape
// Repair persists alongside its diff (spec §4.5 reporting).
func MarshalReport(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(b), nil
}
