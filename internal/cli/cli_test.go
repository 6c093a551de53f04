package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/config"
	"courier/internal/queue"
	"courier/internal/types"
)

type fakeStatusReader map[string]string

func (f fakeStatusReader) Lookup(_ context.Context, id string) (string, error) {
	if st, ok := f[id]; ok {
		return st, nil
	}
	return types.StatusUnknown, nil
}

type fakeCounter struct {
	counts map[types.NotificationStatus]int64
	err    error
}

func (f fakeCounter) CountByStatus(context.Context) (map[types.NotificationStatus]int64, error) {
	return f.counts, f.err
}

type fakeDeadLetters struct {
	depth      int
	result     queue.ReplayResult
	replayErr  error
	gotLimit   int
	replayRuns int
}

func (f *fakeDeadLetters) Depth(context.Context) (int, error) { return f.depth, nil }

func (f *fakeDeadLetters) Replay(_ context.Context, limit int) (queue.ReplayResult, error) {
	f.gotLimit = limit
	f.replayRuns++
	return f.result, f.replayErr
}

type testHarness struct {
	out      *bytes.Buffer
	released int
	dlq      *fakeDeadLetters
	deps     Deps
}

func newHarness() *testHarness {
	h := &testHarness{out: &bytes.Buffer{}, dlq: &fakeDeadLetters{}}
	cfg := &config.Config{Environment: "local"}
	cfg.Broker.EmailQueue = "email.queue"
	cfg.Broker.DeadLetterQueue = "failed.queue"

	h.deps = Deps{
		LoadConfig: func() (*config.Config, error) { return cfg, nil },
		OpenStatus: func(context.Context, *config.Config, *slog.Logger) (StatusReader, func(), error) {
			return fakeStatusReader{"n1": "DELIVERED"}, func() { h.released++ }, nil
		},
		OpenCounter: func(context.Context, *config.Config) (StatusCounter, func(), error) {
			return fakeCounter{counts: map[types.NotificationStatus]int64{
				types.StatusDelivered: 7,
				types.StatusSkipped:   2,
				"LEGACY":              1,
			}}, func() { h.released++ }, nil
		},
		OpenDeadLetters: func(context.Context, *config.Config, *slog.Logger) (DeadLetterQueue, func(), error) {
			return h.dlq, func() { h.released++ }, nil
		},
		Out: h.out,
	}
	return h
}

func (h *testHarness) run(args ...string) error {
	root := NewRootCommand(h.deps)
	root.SetOut(h.out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	return root.Execute()
}

func TestStatusCommand(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("status", "n1"))
	assert.Contains(t, h.out.String(), "n1")
	assert.Contains(t, h.out.String(), "DELIVERED")
	assert.Equal(t, 1, h.released)

	h.out.Reset()
	require.NoError(t, h.run("status", "missing", "-o", "json"))
	var view statusView
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &view))
	assert.Equal(t, statusView{NotificationID: "missing", Status: "unknown"}, view)
}

func TestStatusCommand_RequiresID(t *testing.T) {
	h := newHarness()
	assert.Error(t, h.run("status"))
}

func TestStatsCommand(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("stats", "-o", "json"))

	var rows []statusCount
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &rows))
	assert.Equal(t, []statusCount{
		{Status: "PENDING", Count: 0},
		{Status: "DELIVERED", Count: 7},
		{Status: "FAILED", Count: 0},
		{Status: "SKIPPED", Count: 2},
		{Status: "LEGACY", Count: 1},
	}, rows)
}

func TestStatsCommand_Error(t *testing.T) {
	h := newHarness()
	h.deps.OpenCounter = func(context.Context, *config.Config) (StatusCounter, func(), error) {
		return fakeCounter{err: errors.New("relation does not exist")}, func() {}, nil
	}
	assert.ErrorContains(t, h.run("stats"), "relation does not exist")
}

func TestDLQCount(t *testing.T) {
	h := newHarness()
	h.dlq.depth = 4
	require.NoError(t, h.run("dlq", "count", "-o", "yaml"))
	assert.Contains(t, h.out.String(), "queue: failed.queue")
	assert.Contains(t, h.out.String(), "messages: 4")
}

func TestDLQReplay(t *testing.T) {
	h := newHarness()
	h.dlq.result = queue.ReplayResult{Replayed: 3, Skipped: 1}

	require.NoError(t, h.run("dlq", "replay", "--limit", "5", "-o", "json"))
	assert.Equal(t, 5, h.dlq.gotLimit)

	var view replayView
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &view))
	assert.Equal(t, replayView{From: "failed.queue", To: "email.queue", Replayed: 3, Skipped: 1}, view)
	assert.Equal(t, 1, h.released)
}

func TestDLQReplay_PartialFailureStillReports(t *testing.T) {
	h := newHarness()
	h.dlq.result = queue.ReplayResult{Replayed: 1}
	h.dlq.replayErr = errors.New("channel closed")

	err := h.run("dlq", "replay")
	assert.ErrorContains(t, err, "channel closed")
	assert.Contains(t, h.out.String(), "REPLAYED")
}

func TestDLQReplay_NegativeLimit(t *testing.T) {
	h := newHarness()
	assert.ErrorContains(t, h.run("dlq", "replay", "--limit", "-1"), "must not be negative")
	assert.Zero(t, h.dlq.replayRuns)
}

func TestConfigErrorStopsCommand(t *testing.T) {
	h := newHarness()
	h.deps.LoadConfig = func() (*config.Config, error) { return nil, errors.New("APP_ENV is required") }
	assert.ErrorContains(t, h.run("status", "n1"), "APP_ENV is required")
}

func TestVersionSkipsConfig(t *testing.T) {
	h := newHarness()
	h.deps.LoadConfig = func() (*config.Config, error) { return nil, errors.New("should not load") }
	require.NoError(t, h.run("version"))
	assert.Contains(t, h.out.String(), "courierctl dev")
}

func TestUnsupportedOutput(t *testing.T) {
	h := newHarness()
	assert.ErrorContains(t, h.run("status", "n1", "-o", "xml"), `unsupported output format "xml"`)
}
