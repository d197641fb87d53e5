package irrigation

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"planter-backend/internal/apperr"
	"planter-backend/internal/auth"
	"planter-backend/internal/metrics"
	"planter-backend/internal/model"
	"planter-backend/internal/plotlock"
	"planter-backend/internal/store"
)

// Update carries the dashboard-editable settings fields. Trigger flags are not part of it.
type Update struct {
	Dose1          int
	Dose2          int
	UpdateInterval int
	Limit1         int
	Limit2         int
}

// Validate rejects values no device could act on.
func (u Update) Validate() error {
	switch {
	case u.Dose1 < 0 || u.Dose2 < 0:
		return apperr.InvalidInput("dose must not be negative")
	case u.UpdateInterval <= 0:
		return apperr.InvalidInput("update_interval must be positive")
	case u.Limit1 < 0 || u.Limit2 < 0:
		return apperr.InvalidInput("limit must not be negative")
	}
	return nil
}

// Service negotiates irrigation settings between devices and the dashboard.
type Service struct {
	store   store.Store
	locks   *plotlock.Locker
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a settings Service. locks must be shared with the telemetry service
// so that device polls and policy arming never interleave on one plot.
func NewService(s store.Store, locks *plotlock.Locker, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   s,
		locks:   locks,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DeviceSettings returns the settings snapshot for the device owning apiKey and
// clears both trigger flags in the same atomic step, so an armed flag is delivered once.
func (s *Service) DeviceSettings(ctx context.Context, apiKey string) (model.IrrigationSettings, error) {
	plot, err := auth.PlotForAPIKey(ctx, s.store, apiKey)
	if err != nil {
		return model.IrrigationSettings{}, err
	}

	unlock := s.locks.Lock(plot.ID)
	defer unlock()

	var snapshot model.IrrigationSettings
	err = s.store.Transaction(ctx, func(tx store.Store) error {
		if _, err := tx.LockPlot(ctx, plot.ID); err != nil {
			return err
		}
		settings, err := tx.FindSettings(ctx, plot.ID)
		if err != nil {
			return err
		}
		snapshot = *settings
		if !settings.Trigger1 && !settings.Trigger2 {
			return nil
		}
		settings.Trigger1 = false
		settings.Trigger2 = false
		settings.UpdatedAt = s.now()
		return tx.UpdateSettings(ctx, settings)
	})
	if err != nil {
		return model.IrrigationSettings{}, err
	}

	if snapshot.Trigger1 || snapshot.Trigger2 {
		s.metrics.Consumed()
		s.logger.Info("Device consumed armed triggers",
			zap.Int64("plot_id", plot.ID),
			zap.Bool("trigger_1", snapshot.Trigger1),
			zap.Bool("trigger_2", snapshot.Trigger2))
	}
	return snapshot, nil
}

// DashboardSettings returns the settings snapshot without side effects.
func (s *Service) DashboardSettings(ctx context.Context, plotID int64) (model.IrrigationSettings, error) {
	settings, err := s.store.FindSettings(ctx, plotID)
	if err != nil {
		return model.IrrigationSettings{}, err
	}
	return *settings, nil
}

// UpdateSettings overwrites doses, interval and limits. Trigger flags are left as they are.
func (s *Service) UpdateSettings(ctx context.Context, plotID int64, u Update) (model.IrrigationSettings, error) {
	if err := u.Validate(); err != nil {
		return model.IrrigationSettings{}, err
	}

	unlock := s.locks.Lock(plotID)
	defer unlock()

	var updated model.IrrigationSettings
	err := s.store.Transaction(ctx, func(tx store.Store) error {
		settings, err := tx.FindSettings(ctx, plotID)
		if err != nil {
			return err
		}
		settings.Dose1 = u.Dose1
		settings.Dose2 = u.Dose2
		settings.UpdateInterval = u.UpdateInterval
		settings.Limit1 = u.Limit1
		settings.Limit2 = u.Limit2
		settings.UpdatedAt = s.now()
		if err := tx.UpdateSettings(ctx, settings); err != nil {
			return err
		}
		updated = *settings
		return nil
	})
	if err != nil {
		return model.IrrigationSettings{}, err
	}

	s.logger.Info("Settings updated", zap.Int64("plot_id", plotID))
	return updated, nil
}

// Fire arms one pump as a user-initiated override. The device runs it on its next poll.
func (s *Service) Fire(ctx context.Context, plotID int64, pump int) (model.IrrigationSettings, error) {
	if pump != 1 && pump != 2 {
		return model.IrrigationSettings{}, apperr.InvalidInput("pump must be 1 or 2, got %d", pump)
	}

	unlock := s.locks.Lock(plotID)
	defer unlock()

	var updated model.IrrigationSettings
	err := s.store.Transaction(ctx, func(tx store.Store) error {
		settings, err := tx.FindSettings(ctx, plotID)
		if err != nil {
			return err
		}
		if pump == 1 {
			settings.Trigger1 = true
		} else {
			settings.Trigger2 = true
		}
		settings.UpdatedAt = s.now()
		if err := tx.UpdateSettings(ctx, settings); err != nil {
			return err
		}
		updated = *settings
		return nil
	})
	if err != nil {
		return model.IrrigationSettings{}, err
	}

	s.metrics.Armed(strconv.Itoa(pump), "dashboard")
	s.logger.Info("Pump armed from dashboard", zap.Int64("plot_id", plotID), zap.Int("pump", pump))
	return updated, nil
}
