// file: internal/fingerprint/fpcalc.go
// version: 1.1.0
// guid: 9e1a3c5b-7d2f-4b6a-8c0e-1f3a5b7c9d2e

// Package fingerprint computes acoustic fingerprints with the chromaprint fpcalc tool.
package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	DefaultToolPath     = "fpcalc"
	DefaultTimeout      = 60 * time.Second
	DefaultProbeTimeout = 5 * time.Second

	// time allowed for a killed process to release its pipes
	waitDelay = 2 * time.Second
)

// Result is the output of a single extraction
type Result struct {
	Fingerprint string  `json:"fingerprint"`
	Duration    float64 `json:"duration"`
}

// Extractor produces a fingerprint for one audio file
type Extractor interface {
	// Probe checks that the tool can run. Callers probe once per batch.
	Probe(ctx context.Context) error
	Extract(ctx context.Context, path string) (*Result, error)
}

// Fpcalc runs `fpcalc -json` as a subprocess
type Fpcalc struct {
	toolPath     string
	timeout      time.Duration
	probeTimeout time.Duration

	mu       sync.Mutex
	resolved string
	version  string
}

// Option configures an Fpcalc
type Option func(*Fpcalc)

// WithToolPath sets the binary name or path (default "fpcalc")
func WithToolPath(path string) Option {
	return func(f *Fpcalc) {
		if path != "" {
			f.toolPath = path
		}
	}
}

// WithTimeout bounds each extraction
func WithTimeout(d time.Duration) Option {
	return func(f *Fpcalc) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithProbeTimeout bounds the availability probe
func WithProbeTimeout(d time.Duration) Option {
	return func(f *Fpcalc) {
		if d > 0 {
			f.probeTimeout = d
		}
	}
}

// NewFpcalc creates an extractor backed by the fpcalc binary
func NewFpcalc(opts ...Option) *Fpcalc {
	f := &Fpcalc{
		toolPath:     DefaultToolPath,
		timeout:      DefaultTimeout,
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Timeout returns the per-extraction limit
func (f *Fpcalc) Timeout() time.Duration {
	return f.timeout
}

// Version returns the version line reported by the last successful probe
func (f *Fpcalc) Version() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

// Probe resolves the binary and runs `fpcalc -version`.
// The resolved path is cached for subsequent Extract calls.
func (f *Fpcalc) Probe(ctx context.Context) error {
	bin, err := exec.LookPath(f.toolPath)
	if err != nil {
		f.reset()
		return &ExtractionError{Kind: KindToolUnavailable, Err: err}
	}

	probeCtx, cancel := context.WithTimeout(ctx, f.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, bin, "-version")
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	if err != nil {
		// the caller gave up; this says nothing about the tool
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &ExtractionError{Kind: KindCanceled, Err: ctxErr}
		}
		f.reset()
		return &ExtractionError{
			Kind:   KindToolUnavailable,
			Stderr: strings.TrimSpace(string(out)),
			Err:    fmt.Errorf("%s -version: %w", bin, err),
		}
	}

	f.mu.Lock()
	f.resolved = bin
	f.version = strings.TrimSpace(string(out))
	f.mu.Unlock()
	return nil
}

func (f *Fpcalc) reset() {
	f.mu.Lock()
	f.resolved = ""
	f.version = ""
	f.mu.Unlock()
}

func (f *Fpcalc) binary(ctx context.Context) (string, error) {
	f.mu.Lock()
	bin := f.resolved
	f.mu.Unlock()
	if bin != "" {
		return bin, nil
	}
	if err := f.Probe(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved, nil
}

// Extract fingerprints one file. The process is killed when the timeout elapses.
func (f *Fpcalc) Extract(ctx context.Context, path string) (*Result, error) {
	bin, err := f.binary(ctx)
	if err != nil {
		var extErr *ExtractionError
		if errors.As(err, &extErr) {
			extErr.Path = path
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-json", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, &ExtractionError{
				Kind: KindTimeout,
				Path: path,
				Err:  fmt.Errorf("no result after %s", f.timeout),
			}
		}
		return nil, &ExtractionError{Kind: KindCanceled, Path: path, Err: ctxErr}
	}
	if runErr != nil {
		return nil, &ExtractionError{
			Kind:   KindExitStatus,
			Path:   path,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    runErr,
		}
	}

	return parseOutput(path, stdout.Bytes())
}

func parseOutput(path string, out []byte) (*Result, error) {
	var res Result
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, &ExtractionError{Kind: KindParse, Path: path, Err: fmt.Errorf("invalid fpcalc output: %w", err)}
	}
	if strings.TrimSpace(res.Fingerprint) == "" {
		return nil, &ExtractionError{Kind: KindParse, Path: path, Err: errors.New("empty fingerprint")}
	}
	if res.Duration < 0 {
		return nil, &ExtractionError{Kind: KindParse, Path: path, Err: fmt.Errorf("negative duration %v", res.Duration)}
	}
	return &res, nil
}
