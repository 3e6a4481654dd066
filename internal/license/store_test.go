package license

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/activator/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validConfig = models.BoundConfig{
	BotToken:  "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZ12345678",
	AdminID:   "111",
	SupportID: "222",
	ChannelID: "@mychan",
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type reloadCounter struct {
	mu      sync.Mutex
	results map[string]int
}

func (r *reloadCounter) RecordStoreReload(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string]int)
	}
	r.results[result]++
}

func (r *reloadCounter) count(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[result]
}

func newTestStore(t *testing.T, contents string) (*Store, *fakeClock) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "licenses.json")
	if contents != "" {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	}

	store, err := NewStore(StoreConfig{Path: path, CacheTTL: time.Minute}, zerolog.Nop())
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store.nowFn = clock.Now
	return store, clock
}

func readFile(t *testing.T, path string) map[string]map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestNewStore(t *testing.T) {
	t.Run("requires path", func(t *testing.T) {
		_, err := NewStore(StoreConfig{}, zerolog.Nop())
		require.Error(t, err)
	})

	t.Run("defaults cache ttl", func(t *testing.T) {
		store, err := NewStore(StoreConfig{Path: filepath.Join(t.TempDir(), "l.json")}, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, DefaultCacheTTL, store.ttl)
	})

	t.Run("creates parent directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")
		_, err := NewStore(StoreConfig{Path: filepath.Join(dir, "licenses.json")}, zerolog.Nop())
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})
}

func TestStore_RedeemTwice(t *testing.T) {
	store, clock := newTestStore(t, `{"PLAN-ABC123456789": {"plan_name": "Monthly", "duration_days": 30, "is_used": false}}`)
	ctx := context.Background()

	rec, err := store.Redeem(ctx, RedeemRequest{
		Key:         "PLAN-ABC123456789",
		RequesterID: 42,
		Username:    "alice",
		Config:      validConfig,
	})
	require.NoError(t, err)
	require.True(t, rec.IsUsed())
	assert.Equal(t, int64(42), rec.Redemption.ActivatedBy())
	assert.Equal(t, clock.Now(), rec.Redemption.ActivatedAt())
	assert.Equal(t, clock.Now().Add(30*24*time.Hour), rec.Redemption.ExpiresAt())
	assert.Equal(t, validConfig, rec.Redemption.Config())

	_, err = store.Redeem(ctx, RedeemRequest{
		Key:         "PLAN-ABC123456789",
		RequesterID: 43,
		Config:      validConfig,
	})
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	onDisk := readFile(t, store.Path())["PLAN-ABC123456789"]
	assert.Equal(t, true, onDisk["is_used"])
	assert.Equal(t, float64(42), onDisk["activated_by_user_id"])
	assert.Equal(t, "alice", onDisk["activated_by_username"])
	assert.Equal(t, validConfig.BotToken, onDisk["bot_token"])
	assert.Equal(t, "@mychan", onDisk["channel_id"])
}

func TestStore_RedeemErrors(t *testing.T) {
	store, _ := newTestStore(t, `{"PLAN-1": {"plan_name": "Monthly", "duration_days": 30, "is_used": false}}`)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     RedeemRequest
		wantErr error
	}{
		{
			name:    "unknown key",
			req:     RedeemRequest{Key: "PLAN-404", RequesterID: 1, Config: validConfig},
			wantErr: ErrNotFound,
		},
		{
			name:    "invalid bound config",
			req:     RedeemRequest{Key: "PLAN-1", RequesterID: 1, Config: models.BoundConfig{BotToken: "short"}},
			wantErr: ErrInvalidRecord,
		},
		{
			name:    "missing requester",
			req:     RedeemRequest{Key: "PLAN-1", Config: validConfig},
			wantErr: ErrInvalidRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Redeem(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	rec, err := store.Get(ctx, "PLAN-1")
	require.NoError(t, err)
	assert.False(t, rec.IsUsed(), "failed redemptions must not consume the key")
}

func TestStore_ConcurrentRedeem(t *testing.T) {
	store, _ := newTestStore(t, `{"PLAN-RACE": {"plan_name": "Monthly", "duration_days": 30, "is_used": false}}`)
	ctx := context.Background()

	const attempts = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		used      int
		winner    int64
	)

	for i := 1; i <= attempts; i++ {
		wg.Add(1)
		go func(requester int64) {
			defer wg.Done()
			_, err := store.Redeem(ctx, RedeemRequest{Key: "plan-race", RequesterID: requester, Config: validConfig})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
				winner = requester
			case errors.Is(err, ErrAlreadyUsed):
				used++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, used)

	rec, err := store.Get(ctx, "PLAN-RACE")
	require.NoError(t, err)
	assert.Equal(t, winner, rec.Redemption.ActivatedBy())
}

func TestStore_MissingOrCorruptFile(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{name: "missing", contents: ""},
		{name: "corrupt", contents: "{not json"},
		{name: "null document", contents: "null"},
		{name: "wrong shape", contents: `["PLAN-1"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestStore(t, tt.contents)

			_, err := store.Get(context.Background(), "PLAN-ABC123456789")
			assert.ErrorIs(t, err, ErrNotFound)

			data, err := os.ReadFile(store.Path())
			require.NoError(t, err)
			var doc map[string]any
			require.NoError(t, json.Unmarshal(data, &doc))
			assert.Empty(t, doc)
		})
	}
}

func TestStore_UnreadableFile(t *testing.T) {
	store, _ := newTestStore(t, "")
	require.NoError(t, os.Mkdir(store.Path(), 0o700))

	_, err := store.Get(context.Background(), "PLAN-1")
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestStore_CacheTTL(t *testing.T) {
	store, clock := newTestStore(t, `{"PLAN-1": {"plan_name": "Monthly", "duration_days": 30, "is_used": false}}`)
	reloads := &reloadCounter{}
	store.metrics = reloads
	ctx := context.Background()

	_, err := store.Get(ctx, "PLAN-1")
	require.NoError(t, err)

	// An out-of-band edit is not visible until the TTL runs out.
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{
		"PLAN-1": {"plan_name": "Monthly", "duration_days": 30, "is_used": false},
		"PLAN-2": {"plan_name": "Yearly", "duration_days": 365, "is_used": false}
	}`), 0o600))

	_, err = store.Get(ctx, "PLAN-2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, reloads.count("ok"))

	clock.Advance(59 * time.Second)
	_, err = store.Get(ctx, "PLAN-2")
	assert.ErrorIs(t, err, ErrNotFound)

	clock.Advance(time.Second)
	rec, err := store.Get(ctx, "plan-2")
	require.NoError(t, err)
	assert.Equal(t, "Yearly", rec.PlanName)
	assert.Equal(t, 2, reloads.count("ok"))
}

func TestStore_ReadAfterWrite(t *testing.T) {
	store, _ := newTestStore(t, `{"PLAN-1": {"plan_name": "Monthly", "duration_days": 30, "is_used": false}}`)
	ctx := context.Background()

	before, err := store.Get(ctx, "PLAN-1")
	require.NoError(t, err)
	require.False(t, before.IsUsed())

	_, err = store.Redeem(ctx, RedeemRequest{Key: "PLAN-1", RequesterID: 7, Config: validConfig})
	require.NoError(t, err)

	after, err := store.Get(ctx, "PLAN-1")
	require.NoError(t, err)
	assert.True(t, after.IsUsed())

	require.NoError(t, store.Issue(ctx, mustRecord(t, "PLAN-NEW", "Weekly", 7)))
	issued, err := store.Get(ctx, "PLAN-NEW")
	require.NoError(t, err)
	assert.Equal(t, "Weekly", issued.PlanName)
}

func TestStore_WriteFailureLeavesStateUnchanged(t *testing.T) {
	original := `{"PLAN-1": {"plan_name": "Monthly", "duration_days": 30, "is_used": false}}`
	store, clock := newTestStore(t, original)
	ctx := context.Background()

	_, err := store.Get(ctx, "PLAN-1")
	require.NoError(t, err)

	store.createTemp = func(string, string) (*os.File, error) {
		return nil, errors.New("disk full")
	}

	_, err = store.Redeem(ctx, RedeemRequest{Key: "PLAN-1", RequesterID: 42, Config: validConfig})
	require.ErrorIs(t, err, ErrPersistence)

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, original, string(data))

	rec, err := store.Get(ctx, "PLAN-1")
	require.NoError(t, err)
	assert.False(t, rec.IsUsed(), "cache must not reflect a failed write")

	clock.Advance(2 * time.Minute)
	rec, err = store.Get(ctx, "PLAN-1")
	require.NoError(t, err)
	assert.False(t, rec.IsUsed())

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStore_InconsistentRecords(t *testing.T) {
	store, _ := newTestStore(t, `{
		"PLAN-HALF": {"plan_name": "Monthly", "duration_days": 30, "is_used": true, "bot_token": "x"},
		"PLAN-OK": {"plan_name": "Monthly", "duration_days": 30, "is_used": false}
	}`)
	ctx := context.Background()

	_, err := store.Get(ctx, "PLAN-HALF")
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = store.Redeem(ctx, RedeemRequest{Key: "PLAN-HALF", RequesterID: 1, Config: validConfig})
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "PLAN-OK", all[0].Key)

	_, err = store.Redeem(ctx, RedeemRequest{Key: "PLAN-OK", RequesterID: 1, Config: validConfig})
	require.NoError(t, err)

	onDisk := readFile(t, store.Path())
	require.Contains(t, onDisk, "PLAN-HALF")
	assert.Equal(t, true, onDisk["PLAN-HALF"]["is_used"])
	assert.Equal(t, "x", onDisk["PLAN-HALF"]["bot_token"])
}

func TestStore_NormalizesKeysOnLoad(t *testing.T) {
	store, _ := newTestStore(t, `{" plan-lower ": {"plan_name": "Monthly", "duration_days": 30, "is_used": false}}`)

	rec, err := store.Get(context.Background(), "PLAN-LOWER")
	require.NoError(t, err)
	assert.Equal(t, "PLAN-LOWER", rec.Key)
}

func TestStore_AllAndListByRequester(t *testing.T) {
	store, _ := newTestStore(t, `{
		"PLAN-C": {"plan_name": "Monthly", "duration_days": 30, "is_used": false},
		"PLAN-A": {"plan_name": "Monthly", "duration_days": 30, "is_used": false},
		"PLAN-B": {"plan_name": "Yearly", "duration_days": 365, "is_used": false}
	}`)
	ctx := context.Background()

	for key, requester := range map[string]int64{"PLAN-A": 1, "PLAN-B": 2, "PLAN-C": 1} {
		_, err := store.Redeem(ctx, RedeemRequest{Key: key, RequesterID: requester, Config: validConfig})
		require.NoError(t, err)
	}

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"PLAN-A", "PLAN-B", "PLAN-C"}, []string{all[0].Key, all[1].Key, all[2].Key})

	mine, err := store.ListByRequester(ctx, 1)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "PLAN-A", mine[0].Key)
	assert.Equal(t, "PLAN-C", mine[1].Key)

	none, err := store.ListByRequester(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_Issue(t *testing.T) {
	store, _ := newTestStore(t, `{"PLAN-1": {"plan_name": "Monthly", "duration_days": 30, "is_used": false}}`)
	ctx := context.Background()

	t.Run("rejects duplicates as a batch", func(t *testing.T) {
		err := store.Issue(ctx, mustRecord(t, "PLAN-2", "Monthly", 30), mustRecord(t, "plan-1", "Monthly", 30))
		assert.ErrorIs(t, err, ErrKeyExists)

		_, err = store.Get(ctx, "PLAN-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects invalid records", func(t *testing.T) {
		err := store.Issue(ctx, models.LicenseRecord{Key: "PLAN-3", PlanName: "Monthly"})
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})

	t.Run("adds fresh keys", func(t *testing.T) {
		require.NoError(t, store.Issue(ctx, mustRecord(t, "PLAN-2", "Monthly", 30), mustRecord(t, "PLAN-3", "Yearly", 365)))

		all, err := store.All(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		for _, rec := range all {
			assert.False(t, rec.IsUsed())
		}
	})
}

func TestStore_Ping(t *testing.T) {
	store, _ := newTestStore(t, "")
	assert.NoError(t, store.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Ping(ctx), context.Canceled)
}

func mustRecord(t *testing.T, key, plan string, days int) models.LicenseRecord {
	t.Helper()
	rec, err := models.NewLicenseRecord(key, plan, days)
	require.NoError(t, err)
	return rec
}
