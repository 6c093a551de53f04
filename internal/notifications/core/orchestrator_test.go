package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"courier/internal/status"
	"courier/internal/types"
)

const welcomeJob = `{"notification_id":"n1","user_id":"u1","template_code":"welcome","variables":{"name":"Ada"}}`

type orchestratorFixture struct {
	store     *mockStore
	users     *mockUsers
	templates *mockTemplates
	transport *mockTransport
	reporter  *mockReporter
	sink      *mockSink
	sleeper   *sleepRecorder
	metrics   *mockMetrics
	orch      *Orchestrator
}

func newOrchestratorFixture() *orchestratorFixture {
	f := &orchestratorFixture{
		store: newMockStore(),
		users: &mockUsers{user: types.UserProfile{
			Email:       "ada@example.com",
			Preferences: &types.UserPreferences{EmailNotifications: boolPtr(true)},
		}},
		templates: &mockTemplates{result: types.TemplateRenderResult{
			RenderedSubject: strPtr("Welcome"),
			RenderedBody:    strPtr("Hi Ada"),
		}},
		transport: &mockTransport{},
		reporter:  &mockReporter{},
		sink:      &mockSink{},
		sleeper:   &sleepRecorder{},
		metrics:   &mockMetrics{},
	}
	gateway := NewDeliveryGateway(GatewayConfig{
		Transport:   f.transport,
		DeadLetters: f.sink,
		Provider:    "stub",
		Sleep:       f.sleeper.sleep,
		Logger:      &mockLogger{},
	})
	f.orch = NewOrchestrator(OrchestratorConfig{
		Store:       f.store,
		Users:       f.users,
		Templates:   f.templates,
		Gateway:     gateway,
		Reporter:    f.reporter,
		DeadLetters: f.sink,
		Metrics:     f.metrics,
		Logger:      &mockLogger{},
	})
	return f
}

func (f *orchestratorFixture) assertSingleReport(t *testing.T, status types.NotificationStatus, errText string) {
	t.Helper()
	if len(f.reporter.calls) != 1 {
		t.Fatalf("expected 1 report call, got %d: %+v", len(f.reporter.calls), f.reporter.calls)
	}
	got := f.reporter.calls[0]
	if got.id != "n1" || got.status != status || got.errText != errText {
		t.Errorf("expected report (n1, %s, %q), got %+v", status, errText, got)
	}
}

func TestOrchestrator_Delivered(t *testing.T) {
	f := newOrchestratorFixture()

	outcome, err := f.orch.Handle(context.Background(), []byte(welcomeJob))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeDelivered {
		t.Fatalf("expected DELIVERED, got %s", outcome)
	}
	if got := f.store.get("n1"); got != types.StatusDelivered {
		t.Errorf("expected stored DELIVERED, got %q", got)
	}
	f.assertSingleReport(t, types.StatusDelivered, "")
	if len(f.sink.calls) != 0 {
		t.Errorf("expected no dead-letter records, got %d", len(f.sink.calls))
	}

	render := f.templates.calls[0]
	if render.TemplateCode != "welcome" || render.NotificationType != types.NotificationTypeEmail {
		t.Errorf("unexpected render request: %+v", render)
	}
	if render.Variables["name"] != "Ada" {
		t.Errorf("expected variable name=Ada, got %v", render.Variables)
	}

	sent := f.transport.inputs[0]
	if sent.To != "ada@example.com" || sent.Subject != "Welcome" || sent.BodyHTML != "Hi Ada" {
		t.Errorf("unexpected send input: %+v", sent)
	}
	if len(f.metrics.outcomes) != 1 || f.metrics.outcomes[0] != OutcomeDelivered {
		t.Errorf("expected one DELIVERED outcome metric, got %v", f.metrics.outcomes)
	}
}

func TestOrchestrator_GatewayExhausted(t *testing.T) {
	f := newOrchestratorFixture()
	f.transport.responses = []sendCall{{status: 500}}

	outcome, err := f.orch.Handle(context.Background(), []byte(welcomeJob))
	if err != nil {
		t.Fatalf("exhaustion is terminal, expected nil error, got %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("expected FAILED, got %s", outcome)
	}
	if got := f.store.get("n1"); got != types.StatusFailed {
		t.Errorf("expected stored FAILED, got %q", got)
	}
	if f.transport.calls() != 5 {
		t.Errorf("expected 5 transport calls, got %d", f.transport.calls())
	}
	if len(f.sink.calls) != 1 {
		t.Fatalf("expected 1 dead-letter record, got %d", len(f.sink.calls))
	}
	if string(f.sink.calls[0].original) != welcomeJob {
		t.Errorf("dead-letter must embed the original job, got %s", f.sink.calls[0].original)
	}
	f.assertSingleReport(t, types.StatusFailed, "mail transport returned status 500")
}

func TestOrchestrator_Idempotency(t *testing.T) {
	for _, st := range []types.NotificationStatus{types.StatusDelivered, types.StatusSkipped} {
		t.Run(string(st), func(t *testing.T) {
			f := newOrchestratorFixture()
			f.store.statuses["n1"] = st

			outcome, err := f.orch.Handle(context.Background(), []byte(welcomeJob))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome != OutcomeDuplicate {
				t.Fatalf("expected DUPLICATE, got %s", outcome)
			}
			if f.users.calls != 0 || len(f.templates.calls) != 0 || f.transport.calls() != 0 {
				t.Errorf("duplicate must not call collaborators: users=%d templates=%d transport=%d",
					f.users.calls, len(f.templates.calls), f.transport.calls())
			}
			if len(f.store.sets) != 0 {
				t.Errorf("stored status must be unchanged, got writes %v", f.store.sets)
			}
			if got := f.store.get("n1"); got != st {
				t.Errorf("expected %s to remain, got %s", st, got)
			}
			f.assertSingleReport(t, types.StatusPending, ReasonDuplicate)
		})
	}
}

func TestOrchestrator_FailedIsRetried(t *testing.T) {
	f := newOrchestratorFixture()
	f.store.statuses["n1"] = types.StatusFailed

	outcome, err := f.orch.Handle(context.Background(), []byte(welcomeJob))
	if err != nil || outcome != OutcomeDelivered {
		t.Fatalf("expected FAILED notification to be reprocessed, got %s, %v", outcome, err)
	}
}

func TestOrchestrator_OptedOut(t *testing.T) {
	f := newOrchestratorFixture()
	f.users.user.Preferences = &types.UserPreferences{EmailNotifications: boolPtr(false)}

	outcome, err := f.orch.Handle(context.Background(), []byte(welcomeJob))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeOptedOut {
		t.Fatalf("expected OPTED_OUT, got %s", outcome)
	}
	if got := f.store.get("n1"); got != types.StatusSkipped {
		t.Errorf("expected stored SKIPPED, got %q", got)
	}
	if len(f.templates.calls) != 0 || f.transport.calls() != 0 {
		t.Error("opted-out user must not be rendered or sent")
	}
	f.assertSingleReport(t, types.StatusFailed, ReasonOptedOut)
}

func TestOrchestrator_NoContact(t *testing.T) {
	tests := []struct {
		name  string
		user  types.UserProfile
		err   error
	}{
		{name: "empty email", user: types.UserProfile{}},
		{name: "invalid email", user: types.UserProfile{Email: "not-an-address"}},
		{name: "unknown user", err: types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture()
			f.users.user = tt.user
			f.users.err = tt.err

			outcome, err := f.orch.Handle(context.Background(), []byte(welcomeJob))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome != OutcomeNoContact {
				t.Fatalf("expected NO_CONTACT, got %s", outcome)
			}
			if got := f.store.get("n1"); got != types.StatusSkipped {
				t.Errorf("expected stored SKIPPED, got %q", got)
			}
			if len(f.templates.calls) != 0 || f.transport.calls() != 0 {
				t.Error("no-contact user must not be rendered or sent")
			}
			f.assertSingleReport(t, types.StatusFailed, ReasonNoContact)
		})
	}
}

func TestOrchestrator_AbsentPreferenceMeansEnabled(t *testing.T) {
	f := newOrchestratorFixture()
	f.users.user.Preferences = nil

	outcome, err := f.orch.Handle(context.Background(), []byte(welcomeJob))
	if err != nil || outcome != OutcomeDelivered {
		t.Fatalf("expected DELIVERED, got %s, %v", outcome, err)
	}
}

func TestOrchestrator_CollaboratorFailureRequeues(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *orchestratorFixture)
		outcome Outcome
		errText string
	}{
		{
			name: "resolver unavailable",
			setup: func(f *orchestratorFixture) {
				f.users.err = types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream returned status 503", nil)
			},
			outcome: OutcomeResolveFailed,
			errText: "upstream returned status 503",
		},
		{
			name: "renderer rejected",
			setup: func(f *orchestratorFixture) {
				f.templates.err = types.NewAppError(types.ErrCodeUpstreamRejected, "template not found", nil)
			},
			outcome: OutcomeRenderFailed,
			errText: "template not found",
		},
		{
			name: "plain error",
			setup: func(f *orchestratorFixture) {
				f.templates.err = errBoom
			},
			outcome: OutcomeRenderFailed,
			errText: "boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture()
			tt.setup(f)

			outcome, err := f.orch.Handle(context.Background(), []byte(welcomeJob))
			if err == nil {
				t.Fatal("expected an error so the message is requeued")
			}
			if outcome != tt.outcome {
				t.Errorf("expected %s, got %s", tt.outcome, outcome)
			}
			if got := f.store.get("n1"); got != types.StatusFailed {
				t.Errorf("expected stored FAILED, got %q", got)
			}
			if f.transport.calls() != 0 {
				t.Error("transport must not be called")
			}
			f.assertSingleReport(t, types.StatusFailed, tt.errText)
		})
	}
}

func TestOrchestrator_MalformedGoesToDeadLetter(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"notification_id":"n1","user_id":"u1"}`,
		`{"notification_id":"","user_id":"u1","template_code":"welcome"}`,
		`{"notification_id":"n1","user_id":"u1","template_code":"welcome","variables":"x"}`,
	}
	for _, body := range bodies {
		f := newOrchestratorFixture()

		outcome, err := f.orch.Handle(context.Background(), []byte(body))
		if err != nil {
			t.Fatalf("%s: malformed messages are acknowledged, got %v", body, err)
		}
		if outcome != OutcomeMalformed {
			t.Fatalf("%s: expected MALFORMED, got %s", body, outcome)
		}
		if len(f.sink.calls) != 1 || string(f.sink.calls[0].original) != body {
			t.Errorf("%s: expected one dead-letter record with the raw body, got %+v", body, f.sink.calls)
		}
		if f.users.calls != 0 || len(f.reporter.calls) != 0 || len(f.store.sets) != 0 {
			t.Errorf("%s: malformed message must have no other side effects", body)
		}
	}
}

func TestOrchestrator_DedupErrorRequeues(t *testing.T) {
	f := newOrchestratorFixture()
	f.store.dedupErr = errBoom

	_, err := f.orch.Handle(context.Background(), []byte(welcomeJob))
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
	if f.users.calls != 0 || len(f.reporter.calls) != 0 {
		t.Error("nothing should happen after a failed idempotency check")
	}
}

func TestOrchestrator_CancellationSkipsFailedWrite(t *testing.T) {
	f := newOrchestratorFixture()
	f.transport.responses = []sendCall{{status: 500}}
	f.sleeper.err = context.Canceled

	_, err := f.orch.Handle(context.Background(), []byte(welcomeJob))
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.store.sets) != 0 {
		t.Errorf("no status should be written on shutdown, got %v", f.store.sets)
	}
	if len(f.reporter.calls) != 0 || len(f.sink.calls) != 0 {
		t.Error("no report or dead-letter expected on shutdown")
	}
}

// End-to-end with the real status store, dead-letter router and gateway.
func TestOrchestrator_EndToEnd(t *testing.T) {
	tests := []struct {
		name       string
		responses  []sendCall
		wantStatus string
		wantDLQ    int
	}{
		{name: "delivered", responses: []sendCall{{status: 202}}, wantStatus: "DELIVERED", wantDLQ: 0},
		{name: "exhausted", responses: []sendCall{{status: 500}}, wantStatus: "FAILED", wantDLQ: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := status.NewStore(status.NewMemoryBackend())
			publisher := &mockPublisher{}
			router := NewDeadLetterRouter(publisher, nil, &mockLogger{})
			transport := &mockTransport{responses: tt.responses}
			reporter := &mockReporter{}

			orch := NewOrchestrator(OrchestratorConfig{
				Store: store,
				Users: &mockUsers{user: types.UserProfile{
					Email:       "ada@example.com",
					Preferences: &types.UserPreferences{EmailNotifications: boolPtr(true)},
				}},
				Templates: &mockTemplates{result: types.TemplateRenderResult{
					RenderedSubject: strPtr("Welcome"),
					RenderedBody:    strPtr("Hi Ada"),
				}},
				Gateway: NewDeliveryGateway(GatewayConfig{
					Transport:   transport,
					DeadLetters: router,
					Provider:    "stub",
					Sleep:       func(context.Context, time.Duration) error { return nil },
					Logger:      &mockLogger{},
				}),
				Reporter:    reporter,
				DeadLetters: router,
				Logger:      &mockLogger{},
			})

			if _, err := orch.Handle(ctx, []byte(welcomeJob)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got, err := store.Lookup(ctx, "n1")
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if got != tt.wantStatus {
				t.Errorf("expected stored %s, got %s", tt.wantStatus, got)
			}
			if len(reporter.calls) != 1 || string(reporter.calls[0].status) != tt.wantStatus {
				t.Errorf("expected one %s report, got %+v", tt.wantStatus, reporter.calls)
			}
			if len(publisher.bodies) != tt.wantDLQ {
				t.Fatalf("expected %d dead-letter records, got %d", tt.wantDLQ, len(publisher.bodies))
			}
			if tt.wantDLQ == 0 {
				return
			}

			var rec types.DeadLetterRecord
			if err := json.Unmarshal(publisher.bodies[0], &rec); err != nil {
				t.Fatalf("dead-letter record is not JSON: %v", err)
			}
			if string(rec.OriginalMessage) != welcomeJob {
				t.Errorf("expected original job, got %s", rec.OriginalMessage)
			}
			if rec.Error != "mail transport returned status 500" {
				t.Errorf("unexpected dead-letter error: %q", rec.Error)
			}

			// Redelivery after FAILED is allowed; after DELIVERED it is a duplicate.
			again, _ := orch.Handle(ctx, []byte(welcomeJob))
			if again == OutcomeDuplicate {
				t.Error("FAILED must not be treated as a duplicate")
			}
		})
	}
}

func TestOrchestrator_UnknownStatusLookup(t *testing.T) {
	store := status.NewStore(status.NewMemoryBackend())
	got, err := store.Lookup(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != types.StatusUnknown {
		t.Errorf("expected %q, got %q", types.StatusUnknown, got)
	}
}

func TestQueueLag(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := QueueLag(time.Time{}, now); got != 0 {
		t.Errorf("zero enqueue time: expected 0, got %v", got)
	}
	if got := QueueLag(now.Add(time.Minute), now); got != 0 {
		t.Errorf("future enqueue time: expected 0, got %v", got)
	}
	if got := QueueLag(now.Add(-3*time.Second), now); got != 3*time.Second {
		t.Errorf("expected 3s, got %v", got)
	}
}
