package enforcement_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/enforcement"
	"github.com/vedran77/bazaar/internal/repository"
	"github.com/vedran77/bazaar/internal/repository/memory"
	"go.uber.org/zap"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTest(t *testing.T) (*enforcement.Ledger, *repository.Store, *clock) {
	t.Helper()
	store := memory.NewStore()
	clk := &clock{now: baseTime}
	policy := enforcement.Policy{
		WarningLimit:        2,
		TimedLimit:          4,
		RestrictionDuration: 24 * time.Hour,
		Now:                 clk.Now,
	}
	return enforcement.NewLedger(store.Enforcement, policy, zap.NewNop()), store, clk
}

func createUser(t *testing.T, store *repository.Store) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, store.Users.Create(context.Background(), &domain.User{
		ID:       id,
		Email:    id.String() + "@example.com",
		Username: id.String(),
		Role:     domain.RoleBuyer,
	}))
	return id
}

func violation(key string) enforcement.ViolationContext {
	return enforcement.ViolationContext{ConversationID: uuid.New(), MessageKey: key, Text: "call 555-123-4567"}
}

var phone = []domain.ViolationKind{domain.ViolationPhoneNumber}

func TestPolicyEscalate(t *testing.T) {
	t.Parallel()
	policy := enforcement.Policy{
		WarningLimit:        2,
		TimedLimit:          4,
		RestrictionDuration: time.Hour,
		Now:                 func() time.Time { return baseTime },
	}

	tests := []struct {
		count int
		want  domain.EnforcementAction
	}{
		{0, domain.ActionNone},
		{1, domain.ActionWarning},
		{2, domain.ActionWarning},
		{3, domain.ActionTimedRestriction},
		{4, domain.ActionTimedRestriction},
		{5, domain.ActionIndefiniteRestriction},
		{40, domain.ActionIndefiniteRestriction},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("count %d", tt.count), func(t *testing.T) {
			t.Parallel()
			s := policy.Escalate(tt.count)
			assert.Equal(t, tt.want, s.Action)
			if tt.want == domain.ActionTimedRestriction {
				require.NotNil(t, s.RestrictedUntil)
				assert.Equal(t, baseTime.Add(time.Hour), *s.RestrictedUntil)
			} else {
				assert.Nil(t, s.RestrictedUntil)
			}
		})
	}
}

func TestCanSendFailsClosed(t *testing.T) {
	t.Parallel()
	ledger, _, _ := setupTest(t)

	d := ledger.CanSend(context.Background(), uuid.New())
	assert.False(t, d.Allowed)
	assert.Equal(t, enforcement.ReasonUnavailable, d.Reason)
}

func TestCanSendStable(t *testing.T) {
	t.Parallel()
	ledger, store, _ := setupTest(t)
	user := createUser(t, store)

	for range 5 {
		assert.Equal(t, enforcement.Decision{Allowed: true}, ledger.CanSend(context.Background(), user))
	}
}

func TestRecordViolationLadder(t *testing.T) {
	t.Parallel()
	ledger, store, clk := setupTest(t)
	ctx := context.Background()
	user := createUser(t, store)

	want := []domain.EnforcementAction{
		domain.ActionWarning,
		domain.ActionWarning,
		domain.ActionTimedRestriction,
		domain.ActionTimedRestriction,
		domain.ActionIndefiniteRestriction,
	}
	for i, action := range want {
		out, err := ledger.RecordViolation(ctx, user, phone, violation(fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
		assert.True(t, out.Recorded)
		assert.Equal(t, action, out.Action, "violation %d", i+1)
		assert.Equal(t, i+1, out.State.ViolationCount)
		assert.NotEmpty(t, out.Message)
	}

	state, err := ledger.State(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 5, state.ViolationCount)
	assert.Equal(t, 2, state.WarningCount)
	assert.True(t, state.MessagingRestricted)
	assert.Nil(t, state.RestrictedUntil)

	clk.Advance(365 * 24 * time.Hour)
	assert.False(t, ledger.CanSend(ctx, user).Allowed)
}

func TestTimedRestrictionExpires(t *testing.T) {
	t.Parallel()
	ledger, store, clk := setupTest(t)
	ctx := context.Background()
	user := createUser(t, store)

	for i := range 3 {
		_, err := ledger.RecordViolation(ctx, user, phone, violation(fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
	}

	d := ledger.CanSend(ctx, user)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "restricted until")

	clk.Advance(24*time.Hour + time.Second)
	assert.True(t, ledger.CanSend(ctx, user).Allowed)

	lifted, err := ledger.LiftExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), lifted)

	state, err := ledger.State(ctx, user)
	require.NoError(t, err)
	assert.False(t, state.MessagingRestricted)
	assert.Equal(t, 3, state.ViolationCount)
}

func TestRecordViolationIdempotent(t *testing.T) {
	t.Parallel()
	ledger, store, _ := setupTest(t)
	ctx := context.Background()
	user := createUser(t, store)

	first, err := ledger.RecordViolation(ctx, user, phone, violation("nonce-1"))
	require.NoError(t, err)
	assert.True(t, first.Recorded)

	again, err := ledger.RecordViolation(ctx, user, phone, violation("nonce-1"))
	require.NoError(t, err)
	assert.False(t, again.Recorded)
	assert.Equal(t, domain.ActionNone, again.Action)
	assert.Equal(t, 1, again.State.ViolationCount)

	events, err := ledger.Violations(ctx, user, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecordViolationConcurrent(t *testing.T) {
	t.Parallel()
	ledger, store, _ := setupTest(t)
	ctx := context.Background()
	user := createUser(t, store)

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.RecordViolation(ctx, user, phone, violation(fmt.Sprintf("c-%d", i)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err := ledger.State(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, n, state.ViolationCount)

	events, err := ledger.Violations(ctx, user, 100)
	require.NoError(t, err)
	assert.Len(t, events, n)
}

func TestRecordViolationRejectsEmpty(t *testing.T) {
	t.Parallel()
	ledger, store, _ := setupTest(t)
	user := createUser(t, store)

	_, err := ledger.RecordViolation(context.Background(), user, nil, violation("x"))
	require.ErrorIs(t, err, enforcement.ErrNoViolationKinds)

	_, err = ledger.RecordViolation(context.Background(), user, phone, enforcement.ViolationContext{})
	require.ErrorIs(t, err, enforcement.ErrMissingKey)
}

func TestAdminRestrictUnrestrict(t *testing.T) {
	t.Parallel()
	ledger, store, _ := setupTest(t)
	ctx := context.Background()
	user := createUser(t, store)

	state, err := ledger.Restrict(ctx, user, 0)
	require.NoError(t, err)
	assert.True(t, state.MessagingRestricted)
	assert.Nil(t, state.RestrictedUntil)
	assert.False(t, ledger.CanSend(ctx, user).Allowed)

	state, err = ledger.Restrict(ctx, user, 2*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, state.RestrictedUntil)
	assert.Equal(t, baseTime.Add(2*time.Hour), *state.RestrictedUntil)

	state, err = ledger.Unrestrict(ctx, user)
	require.NoError(t, err)
	assert.False(t, state.MessagingRestricted)
	assert.True(t, ledger.CanSend(ctx, user).Allowed)

	_, err = ledger.Restrict(ctx, uuid.New(), 0)
	require.ErrorIs(t, err, enforcement.ErrUserNotFound)
}

func TestNewSweeperRejectsBadCron(t *testing.T) {
	t.Parallel()
	ledger, _, _ := setupTest(t)

	_, err := enforcement.NewSweeper(ledger, "not a cron", zap.NewNop())
	require.Error(t, err)

	s, err := enforcement.NewSweeper(ledger, "*/5 * * * *", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
}
