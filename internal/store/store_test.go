package store

import (
	"context"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/haventech/haven/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "haven.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestUser(t *testing.T, s *Store, tgID int64) *domain.User {
	t.Helper()
	u, err := s.UpsertUser(context.Background(), domain.User{
		TelegramUserID: tgID,
		TelegramChatID: tgID,
		Username:       "someone",
		FirstName:      "Some",
	})
	if err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	return u
}

func TestOpenReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "haven.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// Schema init must be idempotent on reopen.
	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s2.Close()
}

func TestUpsertUserRefreshesContact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newTestUser(t, s, 42)

	second, err := s.UpsertUser(ctx, domain.User{
		TelegramUserID: 42,
		TelegramChatID: 999,
		Username:       "renamed",
		FirstName:      "New",
	})
	if err != nil {
		t.Fatalf("UpsertUser second error: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("internal id changed on upsert: %s -> %s", first.ID, second.ID)
	}
	if second.TelegramChatID != 999 || second.Username != "renamed" {
		t.Fatalf("contact fields not refreshed: %+v", second)
	}
}

func TestEnsureSettingsDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, 1)

	st, err := s.EnsureSettings(ctx, u.ID)
	if err != nil {
		t.Fatalf("EnsureSettings error: %v", err)
	}
	if st.Style != "cbt" || st.ResponseLength != "medium" || !st.AllowMemory {
		t.Fatalf("unexpected defaults: %+v", st)
	}

	st.Language = "en"
	st.AllowMemory = false
	if err := s.UpdateSettings(ctx, *st); err != nil {
		t.Fatalf("UpdateSettings error: %v", err)
	}
	got, err := s.SettingsFor(ctx, u.ID)
	if err != nil {
		t.Fatalf("SettingsFor error: %v", err)
	}
	if got.Language != "en" || got.AllowMemory {
		t.Fatalf("settings not persisted: %+v", got)
	}
	if s.LanguageFor(ctx, u.ID) != "en" {
		t.Fatal("LanguageFor should return persisted language")
	}
}

func TestSingleActiveSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, 1)

	if sess, err := s.ActiveSession(ctx, u.ID); err != nil || sess != nil {
		t.Fatalf("expected no active session, got %v (err %v)", sess, err)
	}

	first, err := s.CreateSession(ctx, u.ID)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if err := s.ArchiveSession(ctx, first.ID); err != nil {
		t.Fatalf("ArchiveSession error: %v", err)
	}
	second, err := s.CreateSession(ctx, u.ID)
	if err != nil {
		t.Fatalf("CreateSession second error: %v", err)
	}

	active, err := s.ActiveSession(ctx, u.ID)
	if err != nil {
		t.Fatalf("ActiveSession error: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Fatalf("expected second session active, got %+v", active)
	}
}

func TestArchiveStaleSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, 1)

	sess, err := s.CreateSession(ctx, u.ID)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	// Fresh session survives a cutoff in the past.
	n, err := s.ArchiveStaleSessions(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ArchiveStaleSessions error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 archived, got %d", n)
	}

	n, err = s.ArchiveStaleSessions(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ArchiveStaleSessions error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 archived, got %d", n)
	}
	if active, _ := s.ActiveSession(ctx, u.ID); active != nil {
		t.Fatalf("session %s should be archived", sess.ID)
	}
}

func TestMessagesOrderAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, 1)
	sess, _ := s.CreateSession(ctx, u.ID)

	for _, content := range []string{"one", "two", "three"} {
		role := domain.RoleUser
		if content == "two" {
			role = domain.RoleAssistant
		}
		if _, err := s.CreateMessage(ctx, domain.Message{
			SessionID: sess.ID, UserID: u.ID, Role: role, Content: content,
			Meta: map[string]any{"risk": "none"},
		}); err != nil {
			t.Fatalf("CreateMessage error: %v", err)
		}
	}

	msgs, err := s.SessionMessages(ctx, sess.ID, 20)
	if err != nil {
		t.Fatalf("SessionMessages error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "one" || msgs[2].Content != "three" {
		t.Fatalf("messages out of order: %q %q %q", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}
	if msgs[0].Meta["risk"] != "none" {
		t.Fatalf("meta not round-tripped: %+v", msgs[0].Meta)
	}

	n, err := s.CountSessionMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("CountSessionMessages error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected count 3, got %d", n)
	}
}

func TestFactsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, 1)

	if f, err := s.FactsFor(ctx, u.ID); err != nil || f != nil {
		t.Fatalf("expected no facts, got %v (err %v)", f, err)
	}

	want := domain.Facts{
		Profile:               map[string]string{"name": "Alex", "age": "30"},
		StableIssues:          []string{"anxiety"},
		ValuesAndGoals:        []string{"family"},
		CommonTriggers:        []string{"deadlines"},
		CognitivePatterns:     []string{"catastrophizing"},
		PreferredSupportStyle: []string{"direct"},
		HardLimits:            []string{"no medication advice"},
	}
	if err := s.UpsertFacts(ctx, u.ID, want); err != nil {
		t.Fatalf("UpsertFacts error: %v", err)
	}

	got, err := s.FactsFor(ctx, u.ID)
	if err != nil {
		t.Fatalf("FactsFor error: %v", err)
	}
	sortFacts(got)
	sortFacts(&want)
	if !reflect.DeepEqual(*got, want) {
		t.Fatalf("facts round trip mismatch:\n got %+v\nwant %+v", *got, want)
	}
}

func sortFacts(f *domain.Facts) {
	for _, list := range [][]string{
		f.StableIssues, f.ValuesAndGoals, f.CommonTriggers,
		f.CognitivePatterns, f.PreferredSupportStyle, f.HardLimits,
	} {
		sort.Strings(list)
	}
}

func TestReserveUsageLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, 1)

	for i := 0; i < 2; i++ {
		ok, err := s.ReserveUsage(ctx, u.ID, 2)
		if err != nil {
			t.Fatalf("ReserveUsage error: %v", err)
		}
		if !ok {
			t.Fatalf("reserve %d should be allowed", i+1)
		}
	}

	ok, err := s.ReserveUsage(ctx, u.ID, 2)
	if err != nil {
		t.Fatalf("ReserveUsage error: %v", err)
	}
	if ok {
		t.Fatal("reserve past the limit should be denied")
	}

	usage, err := s.UsageFor(ctx, u.ID)
	if err != nil {
		t.Fatalf("UsageFor error: %v", err)
	}
	if usage.Used != 2 || usage.Limit != 2 {
		t.Fatalf("unexpected usage state: %+v", usage)
	}
}

func TestReserveUsageDayRollover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, 1)

	// Exhaust yesterday's quota.
	if ok, _ := s.ReserveUsage(ctx, u.ID, 1); !ok {
		t.Fatal("first reserve should be allowed")
	}
	yesterday := utcDay(time.Now().AddDate(0, 0, -1))
	if _, err := s.db.Exec(`UPDATE usage_limits SET reset_at = ? WHERE user_id = ?`, yesterday, u.ID); err != nil {
		t.Fatalf("seed yesterday: %v", err)
	}

	// Rollover resets the counter and the call itself counts as one.
	ok, err := s.ReserveUsage(ctx, u.ID, 1)
	if err != nil {
		t.Fatalf("ReserveUsage error: %v", err)
	}
	if !ok {
		t.Fatal("reserve after rollover should be allowed")
	}
	usage, _ := s.UsageFor(ctx, u.ID)
	if usage.Used != 1 || usage.ResetAt != utcDay(time.Now()) {
		t.Fatalf("unexpected rollover state: %+v", usage)
	}
}

func TestRiskEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, 1)

	for _, risk := range []string{domain.RiskLow, domain.RiskHigh, domain.RiskMedium} {
		if err := s.CreateRiskEvent(ctx, domain.RiskEvent{
			UserID:   u.ID,
			Risk:     risk,
			Category: "test",
			Reasons:  []string{"reason"},
		}); err != nil {
			t.Fatalf("CreateRiskEvent error: %v", err)
		}
	}

	events, err := s.RecentHighRisk(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("RecentHighRisk error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 medium/high events, got %d", len(events))
	}
	if events[0].Risk != domain.RiskMedium {
		t.Fatalf("expected most recent first, got %s", events[0].Risk)
	}
}

func TestGenerationLogPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordGeneration(ctx, domain.GenerationRecord{
		Provider: "openai", Model: "gpt-4o-mini",
		TotalTokens: 10, Status: "success",
	}); err != nil {
		t.Fatalf("RecordGeneration error: %v", err)
	}

	n, err := s.PruneGenerationLog(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneGenerationLog error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing pruned, got %d", n)
	}

	n, err = s.PruneGenerationLog(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneGenerationLog error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
}

func TestTimestampFormatFixedWidth(t *testing.T) {
	whole := time.Date(2026, 8, 31, 12, 0, 5, 0, time.UTC)
	frac := time.Date(2026, 8, 31, 12, 0, 5, 123_000_000, time.UTC)

	a, b := formatTime(whole), formatTime(frac)
	if len(a) != len(b) {
		t.Fatalf("timestamps must be fixed width: %q vs %q", a, b)
	}
	// Whole seconds precede fractional ones within the same second.
	if a >= b {
		t.Fatalf("lexicographic order broken: %q >= %q", a, b)
	}
	if !parseTime(a).Equal(whole) || !parseTime(b).Equal(frac) {
		t.Fatalf("round trip lost precision: %q / %q", a, b)
	}
}
