package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-governor/internal/domain"
)

func seed(t *testing.T, store *MemoryStore, now time.Time, specs ...Record) {
	t.Helper()
	for i := range specs {
		if specs[i].ID == "" {
			specs[i].ID = newRecordID()
		}
		if specs[i].Timestamp.IsZero() {
			specs[i].Timestamp = now.Add(-time.Duration(i) * time.Minute)
		}
		if specs[i].Level == "" {
			specs[i].Level = LevelInfo
		}
	}
	require.NoError(t, store.Append(context.Background(), specs))
}

func TestQuery_PaginationAndHasMore(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLogger(t, store, Config{})
	now := time.Now()

	recs := make([]Record, 25)
	for i := range recs {
		recs[i] = Record{Actor: "alice", Action: "transformText"}
	}
	seed(t, store, now, recs...)

	page, err := l.Query(context.Background(), Filter{Actor: "alice", Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Len(t, page.Records, 10)
	assert.Equal(t, 25, page.Total)
	assert.True(t, page.HasMore)

	page, err = l.Query(context.Background(), Filter{Actor: "alice", Limit: 10, Offset: 20})
	require.NoError(t, err)
	assert.Len(t, page.Records, 5)
	assert.False(t, page.HasMore)

	// новые первыми
	page, err = l.Query(context.Background(), Filter{Limit: 2})
	require.NoError(t, err)
	assert.True(t, page.Records[0].Timestamp.After(page.Records[1].Timestamp))
}

func TestQuery_LimitBounds(t *testing.T) {
	l := newTestLogger(t, NewMemoryStore(), Config{})

	page, err := l.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, page.Limit)
	assert.Empty(t, page.Records)

	page, err = l.Query(context.Background(), Filter{Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, page.Limit)
}

func TestExport_IncludesPendingRecords(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLogger(t, store, Config{})

	for i := 0; i < 3; i++ {
		l.LogAction(context.Background(), "alice", "storeDataset", i, Options{})
	}
	recs, err := l.Export(context.Background(), Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestStats_Aggregates(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLogger(t, store, Config{})
	now := time.Now()

	seed(t, store, now,
		Record{Actor: "alice", Action: "transformText", Category: CategoryExecution},
		Record{Actor: "alice", Action: "transformText", Category: CategoryExecution},
		Record{Actor: "bob", Action: "restartAgent", Category: CategoryAuthorization, Level: LevelWarning},
		Record{Actor: "bob", Action: "old", Category: CategorySystem, Timestamp: now.Add(-48 * time.Hour)},
	)

	st, err := l.Stats(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.ByCategory[CategoryExecution])
	assert.Equal(t, 1, st.ByLevel[LevelWarning])
	assert.Equal(t, 2, st.ByActor["alice"])
	require.NotEmpty(t, st.TopActions)
	assert.Equal(t, ActionCount{Action: "transformText", Count: 2}, st.TopActions[0])
	assert.Len(t, st.RecentActivity, 3)
}

func TestSystemHealth(t *testing.T) {
	t.Run("no activity is a warning", func(t *testing.T) {
		l := newTestLogger(t, NewMemoryStore(), Config{})
		h, err := l.SystemHealth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, HealthWarning, h.Status)
		assert.Contains(t, h.Issues, "no activity in the last hour")
	})

	t.Run("healthy", func(t *testing.T) {
		store := NewMemoryStore()
		l := newTestLogger(t, store, Config{})
		recs := make([]Record, 20)
		for i := range recs {
			recs[i] = Record{Actor: "alice", Action: "transformText"}
		}
		seed(t, store, time.Now(), recs...)

		h, err := l.SystemHealth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, HealthHealthy, h.Status)
		assert.Empty(t, h.Issues)
		assert.Equal(t, 20, h.TotalEvents)
	})

	t.Run("error rate above warning", func(t *testing.T) {
		store := NewMemoryStore()
		l := newTestLogger(t, store, Config{})
		recs := make([]Record, 10)
		for i := range recs {
			recs[i] = Record{Actor: "alice", Action: "storeDataset"}
		}
		recs[0].Level = LevelError
		seed(t, store, time.Now(), recs...)

		h, err := l.SystemHealth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, HealthWarning, h.Status)
		assert.InDelta(t, 0.1, h.ErrorRate, 1e-9)
	})

	t.Run("critical events over limit", func(t *testing.T) {
		store := NewMemoryStore()
		l := newTestLogger(t, store, Config{Health: HealthThresholds{CriticalEventsLimit: 2, CriticalErrorRate: 0.99, WarningErrorRate: 0.9}})
		recs := make([]Record, 10)
		for i := range recs {
			recs[i] = Record{Actor: "alice", Action: "runCommand"}
		}
		recs[0].Level = LevelCritical
		recs[1].Level = LevelCritical
		seed(t, store, time.Now(), recs...)

		h, err := l.SystemHealth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, HealthCritical, h.Status)
		assert.Equal(t, 2, h.CriticalEvents)
	})

	t.Run("store failure degrades to critical", func(t *testing.T) {
		l := newTestLogger(t, brokenStore{}, Config{})
		h, err := l.SystemHealth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, HealthCritical, h.Status)
		require.Len(t, h.Issues, 1)
	})
}

type brokenStore struct{}

func (brokenStore) Append(context.Context, []Record) error { return errors.New("down") }
func (brokenStore) Query(context.Context, Filter) ([]Record, error) {
	return nil, errors.New("down")
}
func (brokenStore) Count(context.Context, Filter) (int, error) { return 0, errors.New("down") }
func (brokenStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, errors.New("down")
}

func TestCleanup_DeletesOldAndIsAudited(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLogger(t, store, Config{})
	now := time.Now()

	seed(t, store, now,
		Record{Actor: "alice", Action: "transformText", Timestamp: now.Add(-100 * 24 * time.Hour)},
		Record{Actor: "alice", Action: "transformText", Timestamp: now.Add(-91 * 24 * time.Hour)},
		Record{Actor: "alice", Action: "transformText"},
	)

	deleted, err := l.Cleanup(context.Background(), 90*24*time.Hour, "root")
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	require.NoError(t, l.Flush(context.Background()))
	recs, err := store.Query(context.Background(), Filter{Category: CategoryRetention})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "root", recs[0].Actor)
	assert.Equal(t, LevelWarning, recs[0].Level)
	assert.Equal(t, 2, store.Len())
}

func TestCleanup_RejectsNonPositiveRetention(t *testing.T) {
	l := newTestLogger(t, NewMemoryStore(), Config{})
	_, err := l.Cleanup(context.Background(), 0, "root")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
