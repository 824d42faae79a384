package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
	"github.com/garyjia/approval-gateway/internal/domain/event"
	"github.com/garyjia/approval-gateway/internal/policy"
)

// fakeRequestStore keeps requests in memory with the same compare-and-set
// semantics as the SQL repository.
type fakeRequestStore struct {
	mu       sync.Mutex
	requests map[string]*entity.ApprovalRequest
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{requests: make(map[string]*entity.ApprovalRequest)}
}

func (s *fakeRequestStore) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *req
	s.requests[req.ID] = &clone
	return nil
}

func (s *fakeRequestStore) GetByID(ctx context.Context, id string) (*entity.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	clone := *req
	return &clone, nil
}

func (s *fakeRequestStore) DecidePending(ctx context.Context, id string, status entity.Status, decidedBy, reason string, decidedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != entity.StatusPending {
		return false, nil
	}
	req.Status = status
	req.DecidedBy = decidedBy
	req.DecisionReason = reason
	req.DecidedAt = &decidedAt
	req.UpdatedAt = decidedAt
	return true, nil
}

func (s *fakeRequestStore) List(ctx context.Context, filter entity.ListFilter) ([]*entity.ApprovalRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*entity.ApprovalRequest
	for _, req := range s.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.Action != "" && req.Action != filter.Action {
			continue
		}
		clone := *req
		all = append(all, &clone)
	}
	total := len(all)
	if filter.Offset >= len(all) {
		return nil, total, nil
	}
	all = all[filter.Offset:]
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, total, nil
}

type fakePolicyStore struct {
	policies []*policy.Policy
	err      error
}

func (s *fakePolicyStore) List(ctx context.Context, enabledOnly bool) ([]*policy.Policy, error) {
	return s.policies, s.err
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []*entity.AuditEntry
	err     error
}

func (s *fakeAuditStore) Append(ctx context.Context, entry *entity.AuditEntry) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeAuditStore) ListByRequest(ctx context.Context, requestID string) ([]*entity.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.AuditEntry
	for _, e := range s.entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

type dispatched struct {
	evt      *event.Event
	channels []string
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []dispatched
}

func (d *fakeDispatcher) DispatchAsync(ctx context.Context, evt *event.Event, policyChannels []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatched{evt: evt, channels: policyChannels})
}

func (d *fakeDispatcher) all() []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatched(nil), d.events...)
}

func mustPolicy(t *testing.T, id string, priority int, rulesDoc string) *policy.Policy {
	t.Helper()
	rules, err := policy.ParseRules([]byte(rulesDoc))
	require.NoError(t, err)
	return &policy.Policy{ID: id, Name: id, Rules: rules, Priority: priority, Enabled: true}
}

type serviceFixture struct {
	service    *Service
	requests   *fakeRequestStore
	policies   *fakePolicyStore
	audit      *fakeAuditStore
	dispatcher *fakeDispatcher
}

func newFixture(policies ...*policy.Policy) *serviceFixture {
	f := &serviceFixture{
		requests:   newFakeRequestStore(),
		policies:   &fakePolicyStore{policies: policies},
		audit:      &fakeAuditStore{},
		dispatcher: &fakeDispatcher{},
	}
	f.service = NewService(f.requests, f.policies, f.audit, f.dispatcher, zap.NewNop())
	return f
}

func TestCreatePendingRequest(t *testing.T) {
	f := newFixture()

	result, err := f.service.Create(context.Background(), CreateParams{
		Action: "deploy",
		Params: map[string]interface{}{"env": "prod"},
	})
	require.NoError(t, err)

	assert.Equal(t, entity.StatusPending, result.Request.Status)
	assert.Equal(t, entity.UrgencyNormal, result.Request.Urgency)
	assert.NotEmpty(t, result.Request.ID)
	assert.Equal(t, policy.DecisionRouteToHuman, result.Evaluation.Decision)

	events := f.dispatcher.all()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeRequestCreated, events[0].evt.Type)
	assert.Equal(t, result.Request.ID, events[0].evt.RequestID)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, entity.AuditActionCreated, f.audit.entries[0].Action)
}

func TestCreateAutoApprove(t *testing.T) {
	f := newFixture(mustPolicy(t, "auto", 1,
		`[{"name":"cheap","match":{"params.cost":{"$lt":10}},"decision":"auto_approve","channels":["slack:#approvals"]}]`))

	result, err := f.service.Create(context.Background(), CreateParams{
		Action: "send_email",
		Params: map[string]interface{}{"cost": float64(1)},
	})
	require.NoError(t, err)

	assert.Equal(t, entity.StatusApproved, result.Request.Status)
	assert.Equal(t, ActorPolicy, result.Request.DecidedBy)
	assert.Contains(t, result.Request.DecisionReason, "cheap")
	assert.NotNil(t, result.Request.DecidedAt)

	events := f.dispatcher.all()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeRequestDecided, events[0].evt.Type)
	assert.Equal(t, []string{"slack:#approvals"}, events[0].channels)

	// created + decided
	assert.Len(t, f.audit.entries, 2)
}

func TestCreateAutoDeny(t *testing.T) {
	f := newFixture(mustPolicy(t, "deny", 1,
		`[{"match":{"action":{"$regex":"^delete_"}},"decision":"auto_deny"}]`))

	result, err := f.service.Create(context.Background(), CreateParams{Action: "delete_user"})
	require.NoError(t, err)

	assert.Equal(t, entity.StatusDenied, result.Request.Status)
	assert.Equal(t, ActorPolicy, result.Request.DecidedBy)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture()
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name   string
		params CreateParams
	}{
		{"missing action", CreateParams{}},
		{"unknown urgency", CreateParams{Action: "deploy", Urgency: "extreme"}},
		{"past expiry", CreateParams{Action: "deploy", ExpiresAt: &past}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Create(context.Background(), tt.params)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Empty(t, f.dispatcher.all())
}

func TestCreatePolicyLoadFailure(t *testing.T) {
	f := newFixture()
	f.policies.err = errors.New("db down")

	_, err := f.service.Create(context.Background(), CreateParams{Action: "deploy"})
	assert.Error(t, err)
	assert.Empty(t, f.requests.requests)
}

func TestDecideApprove(t *testing.T) {
	f := newFixture()
	created, err := f.service.Create(context.Background(), CreateParams{Action: "deploy"})
	require.NoError(t, err)

	decided, err := f.service.Decide(context.Background(), created.Request.ID,
		entity.TokenActionApprove, "alice", "looks good")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusApproved, decided.Status)
	assert.Equal(t, "alice", decided.DecidedBy)
	assert.Equal(t, "looks good", decided.DecisionReason)

	events := f.dispatcher.all()
	require.Len(t, events, 2)
	assert.Equal(t, event.TypeRequestDecided, events[1].evt.Type)
	assert.Equal(t, "alice", events[1].evt.PayloadString("decided_by"))
}

func TestDecideConflict(t *testing.T) {
	f := newFixture()
	created, err := f.service.Create(context.Background(), CreateParams{Action: "deploy"})
	require.NoError(t, err)

	_, err = f.service.Decide(context.Background(), created.Request.ID,
		entity.TokenActionApprove, "alice", "")
	require.NoError(t, err)

	_, err = f.service.Decide(context.Background(), created.Request.ID,
		entity.TokenActionDeny, "bob", "")
	require.Error(t, err)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, entity.StatusApproved, conflict.Current.Status)
	assert.Equal(t, "alice", conflict.Current.DecidedBy)
	assert.True(t, IsConflict(err))
}

func TestDecideNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.service.Decide(context.Background(), "missing",
		entity.TokenActionApprove, "alice", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecideValidation(t *testing.T) {
	f := newFixture()

	_, err := f.service.Decide(context.Background(), "id", entity.TokenAction("maybe"), "alice", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.service.Decide(context.Background(), "id", entity.TokenActionApprove, "", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDecideConcurrentSingleWinner(t *testing.T) {
	f := newFixture()
	created, err := f.service.Create(context.Background(), CreateParams{Action: "deploy"})
	require.NoError(t, err)

	const racers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := entity.TokenActionApprove
			if i%2 == 1 {
				action = entity.TokenActionDeny
			}
			_, err := f.service.Decide(context.Background(), created.Request.ID, action, "racer", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one decide must win")
	assert.Equal(t, racers-1, conflicts)

	final, err := f.service.Get(context.Background(), created.Request.ID)
	require.NoError(t, err)
	assert.True(t, final.Status.IsTerminal())
}

func TestExpire(t *testing.T) {
	f := newFixture()
	created, err := f.service.Create(context.Background(), CreateParams{Action: "deploy"})
	require.NoError(t, err)

	expired, err := f.service.Expire(context.Background(), created.Request.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.StatusExpired, expired.Status)
	assert.Equal(t, "system", expired.DecidedBy)

	events := f.dispatcher.all()
	require.Len(t, events, 2)
	assert.Equal(t, event.TypeRequestExpired, events[1].evt.Type)

	// Already-terminal request is left alone.
	_, err = f.service.Expire(context.Background(), created.Request.ID)
	assert.True(t, IsConflict(err))
}

func TestAuditFailureDoesNotBlockDecision(t *testing.T) {
	f := newFixture()
	created, err := f.service.Create(context.Background(), CreateParams{Action: "deploy"})
	require.NoError(t, err)

	f.audit.err = errors.New("audit store down")

	decided, err := f.service.Decide(context.Background(), created.Request.ID,
		entity.TokenActionApprove, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, decided.Status)
}

func TestListCapsLimit(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		_, err := f.service.Create(context.Background(), CreateParams{Action: "deploy"})
		require.NoError(t, err)
	}

	result, err := f.service.List(context.Background(), entity.ListFilter{Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, 100, result.Limit)
	assert.Equal(t, 3, result.Total)
	assert.False(t, result.HasMore)

	result, err = f.service.List(context.Background(), entity.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, result.Requests, 2)
	assert.True(t, result.HasMore)

	_, err = f.service.List(context.Background(), entity.ListFilter{Status: "bogus"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.service.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.service.Audit(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
