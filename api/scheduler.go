/*
scheduler.go - Stale approval reminder scheduler

PURPOSE:
  Periodically scans pending expenses and reports the ones that have been
  waiting on the same approvers for too long. Each reminder is logged with
  the approvers to chase; delivery (email, chat) is left to whoever tails
  the log.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - An expense is stale when its last decision (or its submission, if no
    one has acted yet) is older than StaleAfter
  - Read-only: never changes an expense

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour; non-positive falls back to it)
  - StaleAfter:    Age at which a pending expense is reported (default: 48h)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReminderScheduler(store, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ListReminders endpoint (same scan, on demand)
  - approval/statemachine.go: Waiting
*/
package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/expense-engine/approval"
)

// Reminder is one pending expense that has waited longer than allowed.
type Reminder struct {
	ExpenseID string        `json:"expense_id"`
	CompanyID string        `json:"company_id"`
	Stage     string        `json:"stage"`
	WaitingOn []string      `json:"waiting_on"`
	Since     time.Time     `json:"since"`
	Age       time.Duration `json:"age_ns"`
}

// FindStale returns the pending expenses whose last activity is at least
// staleAfter before now, oldest first.
func FindStale(ctx context.Context, store approval.ExpenseStore, now time.Time, staleAfter time.Duration) ([]Reminder, error) {
	pending, err := store.ListExpenses(ctx, approval.ExpenseFilter{
		Statuses: []approval.Status{approval.StatusPendingApproval},
	})
	if err != nil {
		return nil, err
	}

	var reminders []Reminder
	for _, e := range pending {
		since := lastActivity(e)
		if now.Sub(since) < staleAfter {
			continue
		}
		rem := Reminder{
			ExpenseID: string(e.ID),
			CompanyID: string(e.CompanyID),
			Stage:     string(e.Stage),
			WaitingOn: []string{},
			Since:     since,
			Age:       now.Sub(since),
		}
		for _, id := range approval.Waiting(e) {
			rem.WaitingOn = append(rem.WaitingOn, string(id))
		}
		reminders = append(reminders, rem)
	}
	sort.SliceStable(reminders, func(i, j int) bool { return reminders[i].Since.Before(reminders[j].Since) })
	return reminders, nil
}

func lastActivity(e *approval.Expense) time.Time {
	since := e.CreatedAt
	if e.SubmittedAt != nil {
		since = *e.SubmittedAt
	}
	for _, d := range e.History {
		if d.At.After(since) {
			since = d.At
		}
	}
	return since
}

// ListReminders returns stale pending expenses.
// GET /api/reminders?stale_after=48h
func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	staleAfter := DefaultStaleAfter
	if v := r.URL.Query().Get("stale_after"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "Invalid stale_after", err)
			return
		}
		staleAfter = d
	}

	reminders, err := FindStale(r.Context(), h.Store, h.Engine.Now(), staleAfter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if reminders == nil {
		reminders = []Reminder{}
	}
	writeJSON(w, http.StatusOK, reminders)
}

// =============================================================================
// SCHEDULER
// =============================================================================

const (
	DefaultCheckInterval = time.Hour
	DefaultStaleAfter    = 48 * time.Hour
)

// ReminderScheduler periodically logs stale approvals.
type ReminderScheduler struct {
	Store         approval.ExpenseStore
	Log           zerolog.Logger
	CheckInterval time.Duration
	StaleAfter    time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReminderScheduler creates a new scheduler.
func NewReminderScheduler(store approval.ExpenseStore, log zerolog.Logger) *ReminderScheduler {
	return &ReminderScheduler{
		Store:         store,
		Log:           log,
		CheckInterval: DefaultCheckInterval,
		StaleAfter:    DefaultStaleAfter,
		Enabled:       true,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the scheduler.
func (rs *ReminderScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info().Msg("Reminder scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}
	if rs.CheckInterval <= 0 {
		rs.Log.Warn().Dur("interval", rs.CheckInterval).Dur("default", DefaultCheckInterval).
			Msg("Reminder interval must be positive, using default")
		rs.CheckInterval = DefaultCheckInterval
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.Log.Info().Dur("interval", rs.CheckInterval).Dur("stale_after", rs.StaleAfter).Msg("Reminder scheduler started")
}

// Stop stops the scheduler and waits for an in-progress scan to finish.
func (rs *ReminderScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.Log.Info().Msg("Reminder scheduler stopped")
}

func (rs *ReminderScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow(context.Background())

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// RunNow performs one scan and logs a warning per stale expense.
func (rs *ReminderScheduler) RunNow(ctx context.Context) []Reminder {
	reminders, err := FindStale(ctx, rs.Store, rs.Now(), rs.StaleAfter)
	if err != nil {
		rs.Log.Error().Err(err).Msg("Reminder scan failed")
		return nil
	}
	for _, rem := range reminders {
		rs.Log.Warn().
			Str("expense_id", rem.ExpenseID).
			Str("company_id", rem.CompanyID).
			Str("stage", rem.Stage).
			Strs("waiting_on", rem.WaitingOn).
			Dur("age", rem.Age).
			Msg("Approval overdue")
	}
	rs.Log.Debug().Int("stale", len(reminders)).Msg("Reminder scan complete")
	return reminders
}
