package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railway-accident-analytics/config"
	"railway-accident-analytics/logging"
	"railway-accident-analytics/models"
	"railway-accident-analytics/services"
	"railway-accident-analytics/severity"
)

func criticalCandidate() candidate {
	id := int64(42)
	return candidate{
		PredictionID:    7,
		AccidentID:      &id,
		AccidentType:    "Fire",
		Deaths:          60,
		Injuries:        10,
		RescueTimeHours: 4,
		SeverityScore:   81.25,
		Tier:            severity.Critical.String(),
		TierRank:        int(severity.Critical),
		Ambulances:      9,
		DamageCost:      decimal.NewFromInt(105000000),
		Currency:        "INR",
	}
}

// ── Dispatch building tests ──

func TestBuildDispatch(t *testing.T) {
	c := criticalCandidate()
	d := buildDispatch(c)

	assert.Equal(t, int64(7), d.PredictionID)
	assert.Equal(t, int64(42), *d.AccidentID)
	assert.Equal(t, "Critical", d.Tier)
	assert.Equal(t, int(severity.Critical), d.TierRank)
	assert.Equal(t, 9, d.Ambulances)
	assert.True(t, d.DamageCost.Equal(decimal.NewFromInt(105000000)))
	assert.False(t, d.Alerted)
	assert.Equal(t, reason(c), d.Reason)
}

func TestReason(t *testing.T) {
	assert.Equal(t,
		"Critical Fire: 60 deaths, 10 injuries, 4.0h rescue, severity 81.2; send 9 ambulances, expected damage INR 105000000",
		reason(criticalCandidate()))
}

func TestNeedsAlert(t *testing.T) {
	tests := []struct {
		tier severity.Tier
		want bool
	}{
		{severity.VeryLow, false},
		{severity.LowLevel, false},
		{severity.MidLevel, false},
		{severity.Critical, true},
	}
	for _, tt := range tests {
		t.Run(tt.tier.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, needsAlert(candidate{TierRank: int(tt.tier)}))
		})
	}
}

func TestNewNotifierDisabled(t *testing.T) {
	n, err := newNotifier(config.TelegramConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, services.NopNotifier{}, n)
}

// ── Storage and alert tests ──

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.id
	*(dest[1].(*time.Time)) = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return nil
}

type fakeDB struct {
	row      fakeRow
	rowArgs  []any
	execArgs []any
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.rowArgs = args
	return f.row
}

func (f *fakeDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	f.execArgs = args
	return pgconn.CommandTag{}, nil
}

type fakeNotifier struct {
	alerts []services.DispatchAlert
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, a services.DispatchAlert) error {
	f.alerts = append(f.alerts, a)
	return f.err
}

func newTestDispatcher(db *fakeDB, n services.Notifier) *dispatcher {
	log := logging.Discard()
	return &dispatcher{
		db:       db,
		cache:    services.NewDisabledCache(log),
		notifier: n,
		minTier:  severity.MidLevel,
		log:      log,
	}
}

func TestStore(t *testing.T) {
	tests := []struct {
		name    string
		row     fakeRow
		want    bool
		wantErr bool
	}{
		{"inserted", fakeRow{id: 3}, true, false},
		{"already dispatched", fakeRow{err: pgx.ErrNoRows}, false, false},
		{"database error", fakeRow{err: errors.New("connection reset")}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{row: tt.row}
			d := newTestDispatcher(db, services.NopNotifier{})
			dispatch := buildDispatch(criticalCandidate())

			ok, err := d.store(context.Background(), &dispatch)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.wantErr, err != nil)
			require.Len(t, db.rowArgs, 8)
			assert.Equal(t, "105000000", db.rowArgs[5])
			if tt.want {
				assert.Equal(t, int64(3), dispatch.ID)
			}
		})
	}
}

func TestAlert(t *testing.T) {
	c := criticalCandidate()

	t.Run("delivered", func(t *testing.T) {
		db := &fakeDB{}
		n := &fakeNotifier{}
		d := newTestDispatcher(db, n)
		dispatch := models.Dispatch{ID: 11, Reason: reason(c)}

		assert.True(t, d.alert(context.Background(), c, &dispatch))
		assert.True(t, dispatch.Alerted)
		require.Len(t, n.alerts, 1)
		assert.Equal(t, int64(11), n.alerts[0].DispatchID)
		assert.Equal(t, "Fire", n.alerts[0].AccidentType)
		assert.Equal(t, []any{int64(11)}, db.execArgs)
	})

	t.Run("notifier failure", func(t *testing.T) {
		db := &fakeDB{}
		d := newTestDispatcher(db, &fakeNotifier{err: errors.New("telegram down")})
		dispatch := models.Dispatch{ID: 12}

		assert.False(t, d.alert(context.Background(), c, &dispatch))
		assert.False(t, dispatch.Alerted)
		assert.Nil(t, db.execArgs)
	})
}

func TestPublishDisabledCache(t *testing.T) {
	d := newTestDispatcher(&fakeDB{}, services.NopNotifier{})
	assert.False(t, d.publish(context.Background(), models.Dispatch{ID: 1}))
}
