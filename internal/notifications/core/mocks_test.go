package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"courier/internal/types"
)

// mockLogger implements types.Logger as a no-op for tests.
type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// mockSQSSender records all SendMessage calls for verification.
type mockSQSSender struct {
	calls     []*sqs.SendMessageInput
	returnErr error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &sqs.SendMessageOutput{}, nil
}

// sendCall is one scripted transport response.
type sendCall struct {
	status int
	err    error
}

// mockTransport replays scripted responses; the last one repeats.
type mockTransport struct {
	mu        sync.Mutex
	responses []sendCall
	inputs    []types.SendInput
}

func (m *mockTransport) Send(_ context.Context, in types.SendInput) (types.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)
	if len(m.responses) == 0 {
		return types.SendResult{StatusCode: 202, ProviderMessageID: "msg_1"}, nil
	}
	idx := len(m.inputs) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	r := m.responses[idx]
	return types.SendResult{StatusCode: r.status}, r.err
}

func (m *mockTransport) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// sleepRecorder records requested backoff delays without sleeping.
type sleepRecorder struct {
	delays []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

type deadLetterCall struct {
	original []byte
	errText  string
}

// mockSink records Push calls.
type mockSink struct {
	mu    sync.Mutex
	calls []deadLetterCall
}

func (m *mockSink) Push(_ context.Context, original []byte, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, deadLetterCall{original: original, errText: errText})
}

// mockPublisher records published dead-letter bodies.
type mockPublisher struct {
	bodies    [][]byte
	ctxErr    error
	returnErr error
}

func (m *mockPublisher) PublishDeadLetter(ctx context.Context, body []byte) error {
	m.bodies = append(m.bodies, body)
	m.ctxErr = ctx.Err()
	return m.returnErr
}

type reportCall struct {
	id      string
	status  types.NotificationStatus
	errText string
}

// mockReporter records Report calls.
type mockReporter struct {
	mu    sync.Mutex
	calls []reportCall
}

func (m *mockReporter) Report(_ context.Context, id string, status types.NotificationStatus, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, reportCall{id: id, status: status, errText: errText})
}

// mockUsers returns a fixed profile or error.
type mockUsers struct {
	user  types.UserProfile
	err   error
	calls int
}

func (m *mockUsers) FetchUser(_ context.Context, userID string) (types.UserProfile, error) {
	m.calls++
	if m.err != nil {
		return types.UserProfile{}, m.err
	}
	u := m.user
	if u.ID == "" {
		u.ID = userID
	}
	return u, nil
}

// mockTemplates returns a fixed render result or error.
type mockTemplates struct {
	result types.TemplateRenderResult
	err    error
	calls  []types.TemplateRenderRequest
}

func (m *mockTemplates) Render(_ context.Context, in types.TemplateRenderRequest) (types.TemplateRenderResult, error) {
	m.calls = append(m.calls, in)
	if m.err != nil {
		return types.TemplateRenderResult{}, m.err
	}
	return m.result, nil
}

// mockStore is an in-memory StatusStore with injectable failures.
type mockStore struct {
	mu       sync.Mutex
	statuses map[string]types.NotificationStatus
	sets     []types.NotificationStatus
	dedupErr error
	setErr   error
}

func newMockStore() *mockStore {
	return &mockStore{statuses: make(map[string]types.NotificationStatus)}
}

func (m *mockStore) IsDuplicate(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dedupErr != nil {
		return false, m.dedupErr
	}
	return m.statuses[id].IsTerminalForDedup(), nil
}

func (m *mockStore) Set(_ context.Context, id string, st types.NotificationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.sets = append(m.sets, st)
	m.statuses[id] = st
	return nil
}

func (m *mockStore) get(id string) types.NotificationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[id]
}

// mockMetrics counts outcomes.
type mockMetrics struct {
	NoopMetrics
	mu       sync.Mutex
	outcomes []Outcome
	attempts []MetricResult
	dlq      int
}

func (m *mockMetrics) RecordOutcome(_ context.Context, o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
}

func (m *mockMetrics) RecordAttempt(_ context.Context, _ string, r MetricResult, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, r)
}

func (m *mockMetrics) RecordDeadLetter(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq++
}

var errBoom = errors.New("boom")

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
