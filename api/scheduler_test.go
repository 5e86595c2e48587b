package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindStale(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "in-flight"))

	// GIVEN: two expenses still pending, last touched at testNow
	// WHEN: checked an hour later
	fresh, err := FindStale(ctx, h.Store, testNow.Add(time.Hour), DefaultStaleAfter)
	require.NoError(t, err)

	// THEN: nothing is stale yet
	assert.Empty(t, fresh)

	// WHEN: checked three days later
	stale, err := FindStale(ctx, h.Store, testNow.Add(72*time.Hour), DefaultStaleAfter)
	require.NoError(t, err)

	// THEN: both pending expenses are reported with who to chase
	require.Len(t, stale, 2)
	byID := map[string]Reminder{}
	for _, r := range stale {
		byID[r.ExpenseID] = r
	}
	assert.Equal(t, []string{"u-bob"}, byID["exp-lunch"].WaitingOn)
	assert.Equal(t, []string{"u-jane"}, byID["exp-flight"].WaitingOn)
	assert.Equal(t, 72*time.Hour, byID["exp-lunch"].Age)
}

func TestReminderScheduler_RunNow(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "in-flight"))

	rs := NewReminderScheduler(h.Store, zerolog.Nop())
	rs.Now = func() time.Time { return testNow.Add(49 * time.Hour) }

	assert.Len(t, rs.RunNow(ctx), 2)

	rs.StaleAfter = 50 * time.Hour
	assert.Empty(t, rs.RunNow(ctx))
}

func TestReminderScheduler_StartStop(t *testing.T) {
	h := setupTestHandler(t)
	rs := NewReminderScheduler(h.Store, zerolog.Nop())
	rs.CheckInterval = 10 * time.Millisecond

	rs.Start()
	rs.Start() // second start is a no-op
	time.Sleep(30 * time.Millisecond)
	rs.Stop()
	rs.Stop()

	disabled := NewReminderScheduler(h.Store, zerolog.Nop())
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}

func TestReminderScheduler_NonPositiveIntervalFallsBack(t *testing.T) {
	h := setupTestHandler(t)

	for _, interval := range []time.Duration{0, -time.Minute} {
		// GIVEN: a misconfigured interval
		rs := NewReminderScheduler(h.Store, zerolog.Nop())
		rs.CheckInterval = interval

		// WHEN: starting it
		require.NotPanics(t, rs.Start)

		// THEN: it runs on the default interval
		assert.Equal(t, DefaultCheckInterval, rs.CheckInterval)
		rs.Stop()
	}
}

func TestListReminders_HTTP(t *testing.T) {
	_, router := setupRouter(t, "in-flight")

	rec := doJSON(t, router, http.MethodGet, "/api/reminders?stale_after=0s", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]Reminder](t, rec), 2)

	rec = doJSON(t, router, http.MethodGet, "/api/reminders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]Reminder](t, rec))

	rec = doJSON(t, router, http.MethodGet, "/api/reminders?stale_after=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
