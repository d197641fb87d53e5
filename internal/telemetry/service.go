package telemetry

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"planter-backend/internal/apperr"
	"planter-backend/internal/auth"
	"planter-backend/internal/irrigation"
	"planter-backend/internal/metrics"
	"planter-backend/internal/model"
	"planter-backend/internal/parse"
	"planter-backend/internal/plotlock"
	"planter-backend/internal/store"
)

// ArmNotifier is told, after commit, that ingestion armed one or more pumps.
// Implementations must not block.
type ArmNotifier interface {
	NotifyArmed(plotID int64, plotName string, pumps []int)
}

// Options tunes ingestion.
type Options struct {
	// MergeWindow is how long after its creation the current reading absorbs new pushes.
	MergeWindow time.Duration
	Policy      irrigation.Policy

	// MaxAggregateCount is the largest bucket count Aggregate accepts.
	MaxAggregateCount int

	// Now overrides the wall clock; nil means time.Now in UTC.
	Now func() time.Time
}

// Service ingests device telemetry and answers dashboard reading queries.
type Service struct {
	store    store.Store
	locks    *plotlock.Locker
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics
	notifier ArmNotifier
}

// NewService creates a telemetry Service. notifier and m may be nil.
func NewService(s store.Store, locks *plotlock.Locker, opts Options, logger *zap.Logger, m *metrics.Metrics, notifier ArmNotifier) *Service {
	if opts.MergeWindow <= 0 {
		opts.MergeWindow = time.Hour
	}
	if opts.Policy.Gate <= 0 {
		opts.Policy.Gate = 12 * time.Hour
	}
	if opts.MaxAggregateCount <= 0 {
		opts.MaxAggregateCount = DefaultMaxAggregateCount
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:    s,
		locks:    locks,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		notifier: notifier,
	}
}

// IngestResult describes what one push did.
type IngestResult struct {
	PlotID     int64 `json:"plot_id"`
	ReadingID  int64 `json:"reading_id"`
	Merged     bool  `json:"merged"`
	ArmedPumps []int `json:"armed_pumps"`
}

// IngestTelemetry stores a push from the device owning apiKey and evaluates the irrigation policy.
func (s *Service) IngestTelemetry(ctx context.Context, apiKey string, values parse.Values) (IngestResult, error) {
	plot, err := auth.PlotForAPIKey(ctx, s.store, apiKey)
	if err != nil {
		s.metrics.Ingest("rejected")
		return IngestResult{}, err
	}
	return s.Ingest(ctx, plot.ID, values)
}

// Ingest merges values into the plot's current reading, or starts a new reading once the
// current one is older than the merge window, then runs the irrigation policy. Both steps
// commit together.
func (s *Service) Ingest(ctx context.Context, plotID int64, values parse.Values) (IngestResult, error) {
	unlock := s.locks.Lock(plotID)
	defer unlock()

	now := s.opts.Now()
	result := IngestResult{PlotID: plotID}
	var (
		plotName string
		decision irrigation.Decision
	)

	err := s.store.Transaction(ctx, func(tx store.Store) error {
		plot, err := tx.LockPlot(ctx, plotID)
		if err != nil {
			return err
		}
		plotName = plot.Name

		reading, merged, err := s.mergeOrAppend(ctx, tx, plotID, values, now)
		if err != nil {
			return err
		}
		result.ReadingID = reading.ID
		result.Merged = merged

		settings, err := tx.FindSettings(ctx, plotID)
		if err != nil {
			return err
		}
		decision = s.opts.Policy.Evaluate(values, *settings, plot.LastIrrigationAt, now)
		if decision.Armed() {
			decision.Apply(settings)
			settings.UpdatedAt = now
			if err := tx.UpdateSettings(ctx, settings); err != nil {
				return err
			}
		}
		if decision.ResetGate {
			return tx.UpdatePlotLastIrrigation(ctx, plotID, now)
		}
		return nil
	})
	if err != nil {
		s.metrics.Ingest("rejected")
		if apperr.Is(err, apperr.KindStorage) {
			s.logger.Error("Telemetry ingest failed", zap.Int64("plot_id", plotID), zap.Error(err))
		}
		return IngestResult{}, err
	}

	if result.Merged {
		s.metrics.Ingest("merged")
	} else {
		s.metrics.Ingest("created")
	}
	s.logger.Debug("Telemetry ingested",
		zap.Int64("plot_id", plotID),
		zap.Int64("reading_id", result.ReadingID),
		zap.Bool("merged", result.Merged),
		zap.Bool("gate_open", decision.Eligible))

	result.ArmedPumps = decision.Pumps()
	if decision.Armed() {
		for _, pump := range result.ArmedPumps {
			s.metrics.Armed(strconv.Itoa(pump), "policy")
		}
		s.logger.Info("Irrigation armed", zap.Int64("plot_id", plotID), zap.Ints("pumps", result.ArmedPumps))
		if s.notifier != nil {
			s.notifier.NotifyArmed(plotID, plotName, result.ArmedPumps)
		}
	}
	return result, nil
}

func (s *Service) mergeOrAppend(ctx context.Context, tx store.Store, plotID int64, values parse.Values, now time.Time) (*model.SensorReading, bool, error) {
	current, err := tx.FindCurrentReading(ctx, plotID)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return nil, false, err
	}

	if current != nil && now.Sub(current.Timestamp) < s.opts.MergeWindow {
		current.SetValues(values)
		current.LatestUpdate = now
		if err := tx.UpdateReading(ctx, current); err != nil {
			return nil, false, err
		}
		return current, true, nil
	}

	reading := &model.SensorReading{PlotID: plotID, Timestamp: now, LatestUpdate: now}
	reading.SetValues(values)
	if err := tx.AppendReading(ctx, reading); err != nil {
		return nil, false, err
	}
	return reading, false, nil
}

// Current returns the plot's latest reading. A plot that never reported is NotFound.
func (s *Service) Current(ctx context.Context, plotID int64) (*model.SensorReading, error) {
	if _, err := s.store.FindPlotByID(ctx, plotID); err != nil {
		return nil, err
	}
	return s.store.FindCurrentReading(ctx, plotID)
}
