package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	week    WeeklyTemplate
	version int64
	// stale makes the next n saves fail as if another writer got there first.
	stale int
	saves int
}

func newMemStore() *memStore {
	return &memStore{week: DefaultWeek(), version: 1}
}

func (m *memStore) LoadWeek(context.Context) (WeeklyTemplate, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.week, m.version, nil
}

func (m *memStore) SaveWeek(_ context.Context, week WeeklyTemplate, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.stale > 0 {
		m.stale--
		m.version++
		return 0, ErrStaleVersion
	}
	if expected != m.version {
		return 0, ErrStaleVersion
	}
	m.week = week
	m.version++
	return m.version, nil
}

func TestDefaultWeek(t *testing.T) {
	week := DefaultWeek()
	require.NoError(t, week.Validate())
	assert.False(t, week.Window(time.Sunday).Open)
	assert.Equal(t, Open(540, 1020), week.Window(time.Monday))
	assert.False(t, week.Window(time.Saturday).Open)
}

func TestWindowValidate(t *testing.T) {
	assert.NoError(t, Closed().Validate())
	assert.NoError(t, Open(0, 1440).Validate())
	assert.Error(t, Open(600, 600).Validate())
	assert.Error(t, Open(700, 600).Validate())
	assert.Error(t, Open(-10, 600).Validate())
	assert.Error(t, Open(600, 1441).Validate())
}

func TestSetWindowPersistsWholeWeek(t *testing.T) {
	store := newMemStore()
	p := New(store, nil)

	version, err := p.SetWindow(context.Background(), time.Saturday, Open(600, 840))
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	w, err := p.Window(context.Background(), time.Saturday)
	require.NoError(t, err)
	assert.Equal(t, Open(600, 840), w)

	// untouched days keep their rules
	w, err = p.Window(context.Background(), time.Monday)
	require.NoError(t, err)
	assert.Equal(t, Open(540, 1020), w)
}

func TestSetWindowRejectsInvertedWindow(t *testing.T) {
	store := newMemStore()
	p := New(store, nil)

	_, err := p.SetWindow(context.Background(), time.Monday, Open(1020, 540))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, 0, store.saves)
}

func TestSetWindowRetriesStaleVersion(t *testing.T) {
	store := newMemStore()
	store.stale = 1
	p := New(store, nil)

	_, err := p.SetWindow(context.Background(), time.Sunday, Open(600, 720))
	require.NoError(t, err)
	assert.Equal(t, 2, store.saves)
	assert.Equal(t, Open(600, 720), store.week.Window(time.Sunday))
}

func TestSetWindowGivesUpAfterRetries(t *testing.T) {
	store := newMemStore()
	store.stale = 10
	p := New(store, nil)

	_, err := p.SetWindow(context.Background(), time.Sunday, Open(600, 720))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, DefaultWeek(), store.week)
}

func TestReplaceWeekValidatesEveryDay(t *testing.T) {
	store := newMemStore()
	p := New(store, nil)

	week := DefaultWeek()
	week[time.Wednesday].Window = Open(900, 800)
	_, err := p.ReplaceWeek(context.Background(), week)
	require.Error(t, err)
	assert.Equal(t, "invalid_window", apperr.ReasonOf(err))
	assert.Equal(t, DefaultWeek(), store.week)
}
