package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planter-backend/internal/apperr"
	"planter-backend/internal/model"
)

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return apperr.Storage(err, format, args...)
}

func (s *gormStore) CreateUser(ctx context.Context, user *model.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return apperr.Storage(err, "failed to create user %q", user.Name)
	}
	return nil
}

func (s *gormStore) FindUserByName(ctx context.Context, name string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&user).Error; err != nil {
		return nil, notFoundOr(err, "user %q not found", name)
	}
	return &user, nil
}

func (s *gormStore) FindUserByUUID(ctx context.Context, uuid string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&user).Error; err != nil {
		return nil, notFoundOr(err, "user %s not found", uuid)
	}
	return &user, nil
}

func (s *gormStore) CreatePlot(ctx context.Context, plot *model.Plot, settings *model.IrrigationSettings) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Settings", "User").Create(plot).Error; err != nil {
			return apperr.Storage(err, "failed to create plot %q", plot.Name)
		}
		settings.PlotID = plot.ID
		if err := tx.Create(settings).Error; err != nil {
			return apperr.Storage(err, "failed to create settings for plot %d", plot.ID)
		}
		return nil
	})
}

func (s *gormStore) ListPlotsForUser(ctx context.Context, userID int64) ([]model.Plot, error) {
	var plots []model.Plot
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&plots).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list plots for user %d", userID)
	}
	return plots, nil
}

func (s *gormStore) FindPlotByID(ctx context.Context, plotID int64) (*model.Plot, error) {
	var plot model.Plot
	if err := s.db.WithContext(ctx).First(&plot, plotID).Error; err != nil {
		return nil, notFoundOr(err, "plot %d not found", plotID)
	}
	return &plot, nil
}

func (s *gormStore) FindPlotByAPIKey(ctx context.Context, apiKey string) (*model.Plot, error) {
	var plot model.Plot
	if err := s.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&plot).Error; err != nil {
		return nil, notFoundOr(err, "no plot for api key")
	}
	return &plot, nil
}

func (s *gormStore) LockPlot(ctx context.Context, plotID int64) (*model.Plot, error) {
	q := s.db.WithContext(ctx)
	// SQLite serialises writers itself and has no FOR UPDATE.
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var plot model.Plot
	if err := q.First(&plot, plotID).Error; err != nil {
		return nil, notFoundOr(err, "plot %d not found", plotID)
	}
	return &plot, nil
}

func (s *gormStore) UpdatePlotLastIrrigation(ctx context.Context, plotID int64, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.Plot{}).Where("id = ?", plotID).Update("last_irrigation_at", at)
	if res.Error != nil {
		return apperr.Storage(res.Error, "failed to update last irrigation of plot %d", plotID)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("plot %d not found", plotID)
	}
	return nil
}

func (s *gormStore) FindCurrentReading(ctx context.Context, plotID int64) (*model.SensorReading, error) {
	var reading model.SensorReading
	err := s.db.WithContext(ctx).
		Where("plot_id = ?", plotID).
		Order(`"timestamp" DESC`).Order("id DESC").
		First(&reading).Error
	if err != nil {
		return nil, notFoundOr(err, "plot %d has no readings", plotID)
	}
	return &reading, nil
}

func (s *gormStore) AppendReading(ctx context.Context, reading *model.SensorReading) error {
	if err := s.db.WithContext(ctx).Create(reading).Error; err != nil {
		return apperr.Storage(err, "failed to append reading for plot %d", reading.PlotID)
	}
	return nil
}

func (s *gormStore) UpdateReading(ctx context.Context, reading *model.SensorReading) error {
	if err := s.db.WithContext(ctx).Save(reading).Error; err != nil {
		return apperr.Storage(err, "failed to update reading %d", reading.ID)
	}
	return nil
}

func (s *gormStore) ListReadings(ctx context.Context, plotID int64, since time.Time) ([]model.SensorReading, error) {
	q := s.db.WithContext(ctx).Where("plot_id = ?", plotID)
	if !since.IsZero() {
		q = q.Where(`"timestamp" > ?`, since)
	}
	var readings []model.SensorReading
	if err := q.Order(`"timestamp" DESC`).Order("id DESC").Find(&readings).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list readings for plot %d", plotID)
	}
	return readings, nil
}

func (s *gormStore) FindSettings(ctx context.Context, plotID int64) (*model.IrrigationSettings, error) {
	var settings model.IrrigationSettings
	if err := s.db.WithContext(ctx).Where("plot_id = ?", plotID).First(&settings).Error; err != nil {
		return nil, notFoundOr(err, "settings for plot %d not found", plotID)
	}
	return &settings, nil
}

func (s *gormStore) UpdateSettings(ctx context.Context, settings *model.IrrigationSettings) error {
	res := s.db.WithContext(ctx).Model(&model.IrrigationSettings{}).
		Where("plot_id = ?", settings.PlotID).
		Select("trigger1", "trigger2", "dose1", "dose2", "update_interval", "limit1", "limit2", "updated_at").
		Updates(settings)
	if res.Error != nil {
		return apperr.Storage(res.Error, "failed to update settings for plot %d", settings.PlotID)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("settings for plot %d not found", settings.PlotID)
	}
	return nil
}

func (s *gormStore) PutSubscription(ctx context.Context, sub *model.PushSubscription, plotIDs []int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Plots").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(sub).Error; err != nil {
			return apperr.Storage(err, "failed to upsert subscription")
		}

		var plots []*model.Plot
		if len(plotIDs) > 0 {
			if err := tx.Find(&plots, plotIDs).Error; err != nil {
				return apperr.Storage(err, "failed to load subscribed plots")
			}
		}
		if err := tx.Model(sub).Association("Plots").Replace(&plots); err != nil {
			return apperr.Storage(err, "failed to replace subscribed plots")
		}
		return nil
	})
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := model.PushSubscription{Endpoint: endpoint}
		if err := tx.Model(&sub).Association("Plots").Clear(); err != nil {
			return apperr.Storage(err, "failed to clear subscribed plots")
		}
		if err := tx.Delete(&sub).Error; err != nil {
			return apperr.Storage(err, "failed to delete subscription")
		}
		return nil
	})
}

func (s *gormStore) FindSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, []int64, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).Preload("Plots").First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, nil, notFoundOr(err, "subscription not found")
	}
	plotIDs := make([]int64, len(sub.Plots))
	for i, p := range sub.Plots {
		plotIDs[i] = p.ID
	}
	return &sub, plotIDs, nil
}

func (s *gormStore) ListSubscriptionsForPlot(ctx context.Context, plotID int64) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN subscription_plot_mapping spm ON spm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("spm.plot_id = ?", plotID).
		Find(&subs).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to list subscriptions for plot %d", plotID)
	}
	return subs, nil
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return err
		}
		return apperr.Storage(err, "transaction failed")
	}
	return nil
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperr.Storage(err, "failed to get sql.DB")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperr.Storage(err, "database ping failed")
	}
	return nil
}
