package otp

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"device-registry-backend/config"
	"device-registry-backend/internal/db"
	"device-registry-backend/internal/errs"
	"device-registry-backend/internal/logging"
	"device-registry-backend/internal/model"
	"device-registry-backend/internal/notification"
	"device-registry-backend/internal/store"
)

const testCode = "K7Q2ZP9M"

type recordingDispatcher struct {
	mu         sync.Mutex
	deliveries []notification.Delivery
}

func (d *recordingDispatcher) Dispatch(delivery notification.Delivery) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery)
	return true
}

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

func newTestManager(t *testing.T) (*Manager, *recordingDispatcher, *clock) {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := db.Init(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}, logging.SetupLogger("error", "db"))
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	t.Cleanup(func() { sqlDB.Close() })

	d := &recordingDispatcher{}
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := New(store.NewGormStore(gormDB), d, Config{TTL: 10 * time.Minute, MaxAttempts: 5, HashCost: bcrypt.MinCost},
		logging.SetupLogger("error", "otp"))
	m.now = clk.Now
	m.generate = func() (string, error) { return testCode, nil }
	return m, d, clk
}

var aliceContact = model.OwnerContact{OwnerID: "alice", Email: "alice@example.com", Channel: model.ChannelEmail}

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.Len(t, code, codeLength)
		for _, r := range code {
			assert.Contains(t, codeAlphabet, string(r))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45, "codes must not repeat in practice")
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "K7Q2ZP9M", normalizeCode("k7q2-zp9m"))
	assert.Equal(t, "K7Q2ZP9M", normalizeCode(" K7 Q2 ZP 9M "))
	assert.Equal(t, "AB", normalizeCode("añb"))
}

func TestManager_Issue(t *testing.T) {
	m, d, clk := newTestManager(t)
	ctx := context.Background()

	c, err := m.Issue(ctx, "att-1", aliceContact)
	require.NoError(t, err)
	assert.Equal(t, testCode, c.Code)
	assert.Equal(t, "a***@example.com", c.Destination)
	assert.Equal(t, model.ChannelEmail, c.Channel)
	assert.Equal(t, 5, c.AttemptsRemaining)
	assert.Equal(t, clk.Now().Add(10*time.Minute), c.ExpiresAt)
	assert.False(t, c.Consumed)

	stored, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.CodeHash, testCode)
	assert.Empty(t, stored.Code)

	require.Len(t, d.deliveries, 1)
	assert.Equal(t, c.ID, d.deliveries[0].ChallengeID)
	assert.Equal(t, testCode, d.deliveries[0].Code)
	assert.Equal(t, "alice@example.com", d.deliveries[0].Contact.Email)

	_, err = m.Issue(ctx, "att-2", model.OwnerContact{OwnerID: "nobody"})
	assert.ErrorIs(t, err, errs.ErrNoContactChannel)
}

func TestManager_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("Accepted once, then never again", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		c, err := m.Issue(ctx, "att-1", aliceContact)
		require.NoError(t, err)

		out, err := m.Verify(ctx, c.ID, "k7q2-zp9m")
		require.NoError(t, err)
		assert.Equal(t, Accepted, out.Result)
		assert.Equal(t, 4, out.Remaining)

		out, err = m.Verify(ctx, c.ID, testCode)
		require.NoError(t, err)
		assert.Equal(t, Rejected, out.Result)

		stored, err := m.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, stored.Consumed)
	})

	t.Run("Wrong codes exhaust the challenge", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		c, err := m.Issue(ctx, "att-1", aliceContact)
		require.NoError(t, err)

		for remaining := 4; remaining >= 1; remaining-- {
			out, err := m.Verify(ctx, c.ID, "AAAAAAAA")
			require.NoError(t, err)
			assert.Equal(t, Rejected, out.Result)
			assert.Equal(t, remaining, out.Remaining)
		}

		out, err := m.Verify(ctx, c.ID, "AAAAAAAA")
		require.NoError(t, err)
		assert.Equal(t, Exhausted, out.Result)

		out, err = m.Verify(ctx, c.ID, testCode)
		require.NoError(t, err)
		assert.Equal(t, Exhausted, out.Result, "the correct code is never evaluated after exhaustion")
	})

	t.Run("Malformed code costs an attempt", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		c, err := m.Issue(ctx, "att-1", aliceContact)
		require.NoError(t, err)

		out, err := m.Verify(ctx, c.ID, "K7Q2")
		require.NoError(t, err)
		assert.Equal(t, Rejected, out.Result)
		assert.Equal(t, 4, out.Remaining)

		out, err = m.Verify(ctx, c.ID, testCode+"X")
		require.NoError(t, err)
		assert.Equal(t, Rejected, out.Result)
		assert.Equal(t, 3, out.Remaining)
	})

	t.Run("Correct code after expiry", func(t *testing.T) {
		m, _, clk := newTestManager(t)
		c, err := m.Issue(ctx, "att-1", aliceContact)
		require.NoError(t, err)

		clk.Advance(10*time.Minute + time.Second)
		out, err := m.Verify(ctx, c.ID, testCode)
		require.NoError(t, err)
		assert.Equal(t, Expired, out.Result)

		stored, err := m.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.False(t, stored.Consumed, "timed out is distinct from used")
		assert.Equal(t, 5, stored.AttemptsRemaining)
	})

	t.Run("Revoked challenge", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		c, err := m.Issue(ctx, "att-1", aliceContact)
		require.NoError(t, err)

		require.NoError(t, m.Revoke(ctx, c.ID))
		require.NoError(t, m.Revoke(ctx, c.ID))

		out, err := m.Verify(ctx, c.ID, testCode)
		require.NoError(t, err)
		assert.Equal(t, Rejected, out.Result)
	})

	t.Run("Unknown challenge", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		_, err := m.Verify(ctx, "missing", testCode)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestManager_ConcurrentVerify(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	c, err := m.Issue(ctx, "att-1", aliceContact)
	require.NoError(t, err)

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := m.Verify(ctx, c.ID, testCode)
			assert.NoError(t, err)
			results <- out.Result
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for r := range results {
		if r == Accepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestManager_LastAttemptRace(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.cfg.MaxAttempts = 1
	ctx := context.Background()
	c, err := m.Issue(ctx, "att-1", aliceContact)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan Result, 2)
	for _, code := range []string{testCode, "AAAAAAAA"} {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			out, err := m.Verify(ctx, c.ID, code)
			assert.NoError(t, err)
			results <- out.Result
		}(code)
	}
	wg.Wait()
	close(results)

	counts := map[Result]int{}
	for r := range results {
		counts[r]++
	}
	// Whoever takes the single attempt decides; the other sees the spent challenge.
	if counts[Accepted] == 1 {
		assert.Equal(t, 1, counts[Rejected])
	} else {
		assert.Equal(t, 2, counts[Exhausted])
	}
	stored, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.AttemptsRemaining)
}
