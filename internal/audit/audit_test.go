package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
	"go.uber.org/zap/zaptest"

	"github.com/grcgate/grcgate/internal/storage"
)

func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestLogger(t *testing.T, store Store, opts ...Option) *Logger {
	t.Helper()
	opts = append([]Option{WithClock(steppingClock())}, opts...)
	l, err := NewLogger(context.Background(), store, "", zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return l
}

func openBolt(t *testing.T, path string) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	return db
}

func logAccess(t *testing.T, l *Logger, tenant string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		e, err := l.LogEvent(context.Background(), Event{
			TenantID:  tenant,
			UserID:    "analyst",
			EventType: EventToolExecution,
			Details:   map[string]any{"tool": "archer_search_records", "page": i + 1},
		})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	return ids
}

func TestLogEvent_AssignsChain(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t, NewMemoryStore())

	first, err := l.LogEvent(ctx, Event{TenantID: "acme", EventType: EventTenantAccessGranted})
	require.NoError(t, err)
	second, err := l.LogEvent(ctx, Event{TenantID: "acme", EventType: EventToolExecution, Severity: SeverityMedium})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, GenesisHash(DefaultGenesisSeed), first.PrevHash)
	assert.Equal(t, SeverityLow, first.Severity)
	assert.NotEmpty(t, first.ID)

	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, first.IntegrityHash, second.PrevHash)
	assert.True(t, second.Timestamp.After(first.Timestamp))

	_, err = l.LogEvent(ctx, Event{TenantID: "acme"})
	assert.Error(t, err, "event type is required")

	_, err = l.LogEvent(ctx, Event{EventType: EventConfigChange, Details: map[string]any{"bad": make(chan int)}})
	assert.Error(t, err)

	report, err := l.VerifyIntegrity(ctx, nil)
	require.NoError(t, err)
	assert.True(t, report.Verified)
	assert.Equal(t, 2, report.Checked)
}

func TestLogEvent_DetailsAreCopied(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t, NewMemoryStore())

	details := map[string]any{"rule": "read"}
	e, err := l.LogEvent(ctx, Event{EventType: EventAccessRuleChange, Details: details})
	require.NoError(t, err)
	details["rule"] = "admin"

	got, err := l.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "read", got.Details["rule"])

	got.Details["rule"] = "admin"
	report, err := l.VerifyIntegrity(ctx, nil)
	require.NoError(t, err)
	assert.True(t, report.Verified, "returned events are copies")
}

func TestVerifyIntegrity_DetectsMutatedEvent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := newTestLogger(t, store)
	ids := logAccess(t, l, "acme", 3)

	store.mu.Lock()
	store.events[1].Details["tool"] = "mask_text"
	store.mu.Unlock()

	report, err := l.VerifyIntegrity(ctx, nil)
	require.NoError(t, err)
	assert.False(t, report.Verified)
	assert.Equal(t, []string{ids[1]}, report.Tampered)
	assert.Equal(t, 3, report.Checked)

	last, err := store.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventSecurityViolation, last.EventType)
	assert.Equal(t, SeverityCritical, last.Severity)
	assert.Equal(t, "AUDIT_CHAIN_BROKEN", last.Details["code"])

	// the break stays reported; the violation event itself chains correctly
	report, err = l.VerifyIntegrity(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1]}, report.Tampered)
	assert.Equal(t, 4, report.Checked)
}

func TestVerifyIntegrity_ByID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := newTestLogger(t, store)
	ids := logAccess(t, l, "acme", 3)

	report, err := l.VerifyIntegrity(ctx, []string{ids[0], ids[2], "01HZZZZZZZZZZZZZZZZZZZZZZZ"})
	require.NoError(t, err)
	assert.False(t, report.Verified)
	assert.Equal(t, 2, report.Checked)
	assert.Empty(t, report.Tampered)
	assert.Equal(t, []string{"01HZZZZZZZZZZZZZZZZZZZZZZZ"}, report.Missing)

	store.mu.Lock()
	store.events[2].UserID = "intruder"
	store.mu.Unlock()

	report, err = l.VerifyIntegrity(ctx, []string{ids[0], ids[2]})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2]}, report.Tampered)
}

func TestBoltStore_TamperAndGap(t *testing.T) {
	ctx := context.Background()
	db := openBolt(t, filepath.Join(t.TempDir(), "audit.db"))
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewBoltStore(db, zaptest.NewLogger(t))
	require.NoError(t, err)
	l := newTestLogger(t, store)
	ids := logAccess(t, l, "acme", 4)

	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(storage.AuditBucket))
		// rewrite event 2 with a different tenant but its old hashes
		e, err := decodeEvent(b.Get(sequenceKey(2)))
		if err != nil {
			return err
		}
		e.TenantID = "globex"
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.Put(sequenceKey(2), data); err != nil {
			return err
		}
		// and drop event 4's predecessor
		return b.Delete(sequenceKey(3))
	}))

	report, err := l.VerifyIntegrity(ctx, nil)
	require.NoError(t, err)
	assert.False(t, report.Verified)
	assert.Equal(t, []string{ids[1], ids[3]}, report.Tampered)
	assert.Equal(t, 3, report.Checked)

	report, err = l.VerifyIntegrity(ctx, []string{ids[3]})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[3]}, report.Tampered)

	report, err = l.VerifyIntegrity(ctx, []string{ids[2]})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2]}, report.Missing)
}

func TestBoltStore_UnreadableEntryIsFlagged(t *testing.T) {
	ctx := context.Background()
	db := openBolt(t, filepath.Join(t.TempDir(), "audit.db"))
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewBoltStore(db, nil)
	require.NoError(t, err)
	l := newTestLogger(t, store)
	logAccess(t, l, "acme", 2)

	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(storage.AuditBucket)).Put(sequenceKey(1), []byte("{garbage"))
	}))

	report, err := l.VerifyIntegrity(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Tampered, 2, "garbage entry and its successor")
	assert.Equal(t, "unreadable:"+string(sequenceKey(1)), report.Tampered[0])
}

func TestBoltStore_ChainResumesAfterReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	db := openBolt(t, path)
	store, err := NewBoltStore(db, nil)
	require.NoError(t, err)
	l := newTestLogger(t, store)
	logAccess(t, l, "acme", 2)
	require.NoError(t, db.Close())

	db = openBolt(t, path)
	t.Cleanup(func() { _ = db.Close() })
	store, err = NewBoltStore(db, nil)
	require.NoError(t, err)
	l = newTestLogger(t, store)

	e, err := l.LogEvent(ctx, Event{TenantID: "acme", EventType: EventToolExecution})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), e.Sequence)

	report, err := l.VerifyIntegrity(ctx, nil)
	require.NoError(t, err)
	assert.True(t, report.Verified)
	assert.Equal(t, 3, report.Checked)

	got, err := store.GetBySequence(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestLogEvent_ConcurrentAppendsStaySequential(t *testing.T) {
	ctx := context.Background()
	db := openBolt(t, filepath.Join(t.TempDir(), "audit.db"))
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewBoltStore(db, nil)
	require.NoError(t, err)
	l := newTestLogger(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.LogEvent(ctx, Event{
				TenantID:  fmt.Sprintf("tenant-%d", i%4),
				EventType: EventToolExecution,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	report, err := l.VerifyIntegrity(ctx, nil)
	require.NoError(t, err)
	assert.True(t, report.Verified)
	assert.Equal(t, 40, report.Checked)
}

func TestQueryEvents(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t, NewMemoryStore())
	logAccess(t, l, "acme", 5)
	logAccess(t, l, "globex", 2)
	_, err := l.LogSecurityViolation(ctx, "acme", "mallory", "TENANT_MISMATCH", map[string]any{"requested": "globex"})
	require.NoError(t, err)

	events, total, err := l.QueryEvents(ctx, Filter{TenantID: "acme", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].Sequence)
	assert.Equal(t, uint64(3), events[1].Sequence)
	assert.NotEmpty(t, events[0].IntegrityHash)

	events, total, err = l.QueryEvents(ctx, Filter{MinSeverity: SeverityHigh})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "mallory", events[0].UserID)
	assert.Equal(t, "TENANT_MISMATCH", events[0].Details["code"])
	assert.Equal(t, "globex", events[0].Details["requested"])

	_, total, err = l.QueryEvents(ctx, Filter{EventType: EventToolExecution, UserID: "analyst", TenantID: "globex"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestFilter_Normalize(t *testing.T) {
	f := Filter{Limit: 5000, Offset: -3}
	f.Normalize()
	assert.Equal(t, MaxQueryLimit, f.Limit)
	assert.Equal(t, 0, f.Offset)

	f = Filter{}
	f.Normalize()
	assert.Equal(t, DefaultQueryLimit, f.Limit)
}

func TestGenerateAuditSummary(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t, NewMemoryStore())

	logAccess(t, l, "acme", 2)
	for _, code := range []string{"TIMESTAMP_REPLAY", "TENANT_MISMATCH", "RATE_LIMITED", "TENANT_NOT_FOUND"} {
		_, err := l.LogSecurityViolation(ctx, "acme", "u", code, nil)
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err := l.LogSecurityViolation(ctx, "globex", "u", "ACCESS_DENIED", nil)
		require.NoError(t, err)
	}

	s, err := l.GenerateAuditSummary(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 6, s.TotalEvents)
	assert.Equal(t, 4, s.Violations)
	assert.Equal(t, 2, s.ByEventType[EventToolExecution])
	assert.Equal(t, 2, s.ViolationsBy[SeverityCritical])
	assert.Equal(t, 25+25+5+1, s.RiskScore)
	assert.Equal(t, 100-56, s.SecurityScore)
	require.NotNil(t, s.FirstEvent)
	require.NotNil(t, s.LastEvent)
	assert.True(t, s.LastEvent.After(*s.FirstEvent))

	s, err = l.GenerateAuditSummary(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, 100, s.RiskScore)
	assert.Equal(t, 0, s.SecurityScore)

	s, err = l.GenerateAuditSummary(ctx, "initech")
	require.NoError(t, err)
	assert.Zero(t, s.TotalEvents)
	assert.Equal(t, 100, s.SecurityScore)
	assert.Nil(t, s.FirstEvent)
}

func TestViolationSeverity(t *testing.T) {
	tests := map[string]Severity{
		"TIMESTAMP_REPLAY":       SeverityCritical,
		"TIMESTAMP_FUTURE":       SeverityCritical,
		"SUSPICIOUS_PATTERN":     SeverityCritical,
		"ACCESS_DENIED":          SeverityCritical,
		"SIGNATURE_INVALID":      SeverityCritical,
		"TENANT_MISMATCH":        SeverityCritical,
		"SESSION_EXPIRED":        SeverityHigh,
		"INSUFFICIENT_ROLES":     SeverityMedium,
		"INVALID_TENANT_ID":      SeverityMedium,
		"INVALID_SESSION_FORMAT": SeverityMedium,
		"RATE_LIMITED":           SeverityMedium,
		"TENANT_NOT_FOUND":       SeverityLow,
	}
	for code, want := range tests {
		assert.Equal(t, want, ViolationSeverity(code), code)
	}
}

type fakeStream struct {
	mu     sync.Mutex
	adds   []*redis.XAddArgs
	err    error
	closed bool
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, a)
	return redis.NewStringResult(fmt.Sprintf("%d-0", len(f.adds)), f.err)
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

func TestRedisStreamSink(t *testing.T) {
	ctx := context.Background()
	stream := &fakeStream{}
	l := newTestLogger(t, NewMemoryStore(), WithSink(newRedisStreamSink(stream, "grcgate:audit", 10000)))

	e, err := l.LogSecurityViolation(ctx, "acme", "u", "ACCESS_DENIED", nil)
	require.NoError(t, err)

	require.Len(t, stream.adds, 1)
	args := stream.adds[0]
	assert.Equal(t, "grcgate:audit", args.Stream)
	assert.Equal(t, int64(10000), args.MaxLen)
	assert.True(t, args.Approx)
	values := args.Values.(map[string]any)
	assert.Equal(t, e.ID, values["id"])
	assert.Equal(t, "critical", values["severity"])
	assert.Contains(t, values["event"], e.IntegrityHash)

	require.NoError(t, l.Close())
	assert.True(t, stream.closed)
}

func TestSinkFailureDoesNotFailAppend(t *testing.T) {
	ctx := context.Background()
	stream := &fakeStream{err: errors.New("connection refused")}
	store := NewMemoryStore()
	l := newTestLogger(t, store, WithSink(newRedisStreamSink(stream, "audit", 0)))

	_, err := l.LogEvent(ctx, Event{EventType: EventConfigChange})
	require.NoError(t, err)
	assert.Zero(t, stream.adds[0].MaxLen)

	last, err := store.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last.Sequence)
}
