package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"planter-backend/internal/apperr"
	"planter-backend/internal/model"
)

// A helper function to create a mock database connection.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func newSQLiteStore(t *testing.T) Store {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Plot{},
		&model.SensorReading{},
		&model.IrrigationSettings{},
		&model.PushSubscription{},
	))
	return NewGormStore(db)
}

var backends = []struct {
	name string
	open func(t *testing.T) Store
}{
	{"sqlite", newSQLiteStore},
	{"memory", func(*testing.T) Store { return NewMemoryStore() }},
}

func seedPlot(t *testing.T, s Store) (*model.User, *model.Plot) {
	ctx := context.Background()
	user := &model.User{UUID: "u-1", Name: "tim", PasswordHash: "hash"}
	require.NoError(t, s.CreateUser(ctx, user))

	plot := &model.Plot{UserID: user.ID, Name: "plot1", APIKey: "key-1"}
	require.NoError(t, s.CreatePlot(ctx, plot, &model.IrrigationSettings{UpdateInterval: 600, Limit1: 20, Limit2: 30}))
	return user, plot
}

func TestStore_PlotsAndUsers(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			user, plot := seedPlot(t, s)

			got, err := s.FindPlotByAPIKey(ctx, "key-1")
			require.NoError(t, err)
			assert.Equal(t, plot.ID, got.ID)
			assert.Nil(t, got.LastIrrigationAt)

			_, err = s.FindPlotByAPIKey(ctx, "nope")
			assert.True(t, apperr.Is(err, apperr.KindNotFound))

			_, err = s.FindPlotByID(ctx, plot.ID+100)
			assert.True(t, apperr.Is(err, apperr.KindNotFound))

			byUUID, err := s.FindUserByUUID(ctx, "u-1")
			require.NoError(t, err)
			assert.Equal(t, user.ID, byUUID.ID)

			byName, err := s.FindUserByName(ctx, "tim")
			require.NoError(t, err)
			assert.Equal(t, "hash", byName.PasswordHash)

			plots, err := s.ListPlotsForUser(ctx, user.ID)
			require.NoError(t, err)
			require.Len(t, plots, 1)
			assert.Equal(t, "plot1", plots[0].Name)

			settings, err := s.FindSettings(ctx, plot.ID)
			require.NoError(t, err)
			assert.Equal(t, 20, settings.Limit1)
			assert.Equal(t, 600, settings.UpdateInterval)

			at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, s.UpdatePlotLastIrrigation(ctx, plot.ID, at))
			locked, err := s.LockPlot(ctx, plot.ID)
			require.NoError(t, err)
			require.NotNil(t, locked.LastIrrigationAt)
			assert.True(t, at.Equal(*locked.LastIrrigationAt))
		})
	}
}

func TestStore_Readings(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			_, plot := seedPlot(t, s)

			_, err := s.FindCurrentReading(ctx, plot.ID)
			assert.True(t, apperr.Is(err, apperr.KindNotFound))

			base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			for i := 0; i < 3; i++ {
				r := &model.SensorReading{
					PlotID:       plot.ID,
					Timestamp:    base.Add(time.Duration(i) * time.Hour),
					LatestUpdate: base.Add(time.Duration(i) * time.Hour),
					SoilMoist1:   i,
				}
				require.NoError(t, s.AppendReading(ctx, r))
				assert.NotZero(t, r.ID)
			}

			current, err := s.FindCurrentReading(ctx, plot.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, current.SoilMoist1)

			current.SoilMoist1 = 99
			current.LatestUpdate = base.Add(150 * time.Minute)
			require.NoError(t, s.UpdateReading(ctx, current))

			all, err := s.ListReadings(ctx, plot.ID, time.Time{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, 99, all[0].SoilMoist1)
			assert.Equal(t, 1, all[1].SoilMoist1)
			assert.Equal(t, 0, all[2].SoilMoist1)
			assert.True(t, all[0].Timestamp.Equal(base.Add(2*time.Hour)))

			recent, err := s.ListReadings(ctx, plot.ID, base.Add(30*time.Minute))
			require.NoError(t, err)
			assert.Len(t, recent, 2)
		})
	}
}

func TestStore_Settings(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			_, plot := seedPlot(t, s)

			settings, err := s.FindSettings(ctx, plot.ID)
			require.NoError(t, err)
			settings.Trigger1 = true
			settings.Dose2 = 250
			require.NoError(t, s.UpdateSettings(ctx, settings))

			got, err := s.FindSettings(ctx, plot.ID)
			require.NoError(t, err)
			assert.True(t, got.Trigger1)
			assert.False(t, got.Trigger2)
			assert.Equal(t, 250, got.Dose2)

			// false must be written too, not skipped as a zero value
			got.Trigger1 = false
			require.NoError(t, s.UpdateSettings(ctx, got))
			again, err := s.FindSettings(ctx, plot.ID)
			require.NoError(t, err)
			assert.False(t, again.Trigger1)

			err = s.UpdateSettings(ctx, &model.IrrigationSettings{PlotID: plot.ID + 100})
			assert.True(t, apperr.Is(err, apperr.KindNotFound))

			_, err = s.FindSettings(ctx, plot.ID+100)
			assert.True(t, apperr.Is(err, apperr.KindNotFound))
		})
	}
}

func TestStore_Subscriptions(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			_, plot := seedPlot(t, s)

			sub := &model.PushSubscription{Endpoint: "https://push.example.com/a", P256DH: "p", Auth: "a"}
			require.NoError(t, s.PutSubscription(ctx, sub, []int64{plot.ID}))

			got, plotIDs, err := s.FindSubscription(ctx, sub.Endpoint)
			require.NoError(t, err)
			assert.Equal(t, "p", got.P256DH)
			assert.Equal(t, []int64{plot.ID}, plotIDs)

			subs, err := s.ListSubscriptionsForPlot(ctx, plot.ID)
			require.NoError(t, err)
			require.Len(t, subs, 1)
			assert.Equal(t, sub.Endpoint, subs[0].Endpoint)

			require.NoError(t, s.DeleteSubscription(ctx, sub.Endpoint))
			_, _, err = s.FindSubscription(ctx, sub.Endpoint)
			assert.True(t, apperr.Is(err, apperr.KindNotFound))

			subs, err = s.ListSubscriptionsForPlot(ctx, plot.ID)
			require.NoError(t, err)
			assert.Empty(t, subs)
		})
	}
}

func TestStore_TransactionPropagatesTypedErrors(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			err := s.Transaction(context.Background(), func(tx Store) error {
				_, err := tx.FindPlotByID(context.Background(), 404)
				return err
			})
			assert.True(t, apperr.Is(err, apperr.KindNotFound))
		})
	}
}

func TestStore_TransactionRollsBackOnError(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			_, plot := seedPlot(t, s)
			ctx := context.Background()
			t0 := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)

			first := &model.SensorReading{PlotID: plot.ID, Timestamp: t0, LatestUpdate: t0, SoilMoist1: 40}
			require.NoError(t, s.AppendReading(ctx, first))

			failed := errors.New("policy failed")
			err := s.Transaction(ctx, func(tx Store) error {
				merged := *first
				merged.SoilMoist1 = 10
				merged.LatestUpdate = t0.Add(10 * time.Minute)
				require.NoError(t, tx.UpdateReading(ctx, &merged))
				require.NoError(t, tx.AppendReading(ctx, &model.SensorReading{PlotID: plot.ID, Timestamp: t0.Add(2 * time.Hour), LatestUpdate: t0.Add(2 * time.Hour)}))

				settings, err := tx.FindSettings(ctx, plot.ID)
				require.NoError(t, err)
				settings.Trigger1 = true
				require.NoError(t, tx.UpdateSettings(ctx, settings))
				require.NoError(t, tx.UpdatePlotLastIrrigation(ctx, plot.ID, t0))
				return failed
			})
			assert.ErrorIs(t, err, failed)

			rows, err := s.ListReadings(ctx, plot.ID, time.Time{})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, 40, rows[0].SoilMoist1)

			settings, err := s.FindSettings(ctx, plot.ID)
			require.NoError(t, err)
			assert.False(t, settings.Trigger1)

			got, err := s.FindPlotByID(ctx, plot.ID)
			require.NoError(t, err)
			assert.Nil(t, got.LastIrrigationAt)
		})
	}
}

func TestGormStore_StorageErrorMapping(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(`SELECT \* FROM "plots" WHERE api_key = \$1`).
		WithArgs("key-1", Any{}).
		WillReturnError(errors.New("connection refused"))

	_, err := s.FindPlotByAPIKey(context.Background(), "key-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStorage))
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_NotFoundMapping(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(`SELECT \* FROM "irrigation_settings" WHERE plot_id = \$1`).
		WithArgs(7, Any{}).
		WillReturnRows(sqlmock.NewRows([]string{"plot_id"}))

	_, err := s.FindSettings(context.Background(), 7)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
