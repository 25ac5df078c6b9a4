// Package testutils provides testing utilities shared across packages
package testutils

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestContext bundles the per-test resources of a pipeline test
type TestContext struct {
	t       *testing.T
	timeout time.Duration
	cleanup []func()
	mu      sync.Mutex
}

// NewTestContext creates a test context. Cleanup runs automatically when
// the test finishes.
func NewTestContext(t *testing.T, timeout time.Duration) *TestContext {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	tc := &TestContext{t: t, timeout: timeout}
	t.Cleanup(tc.Cleanup)
	return tc
}

// T returns testing.T instance
func (tc *TestContext) T() *testing.T {
	return tc.t
}

// Context returns a context bounded by the test timeout
func (tc *TestContext) Context() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), tc.timeout)
	tc.AddCleanup(cancel)
	return ctx
}

// AddCleanup adds cleanup function
func (tc *TestContext) AddCleanup(fn func()) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.cleanup = append(tc.cleanup, fn)
}

// Cleanup executes cleanup functions in reverse order
func (tc *TestContext) Cleanup() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	for i := len(tc.cleanup) - 1; i >= 0; i-- {
		tc.cleanup[i]()
	}
	tc.cleanup = nil
}

// LogPath returns a fresh durable log path in a temp directory
func (tc *TestContext) LogPath() string {
	return filepath.Join(tc.t.TempDir(), "log.txt")
}

// ObservedLogger returns a logger whose entries can be inspected
func (tc *TestContext) ObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// ReadLines returns the lines of the file at path, without terminators
func (tc *TestContext) ReadLines(path string) []string {
	tc.t.Helper()

	f, err := os.Open(path)
	require.NoError(tc.t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(tc.t, scanner.Err())
	return lines
}
