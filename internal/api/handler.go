package api

import (
	"context"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"planter-backend/internal/irrigation"
	"planter-backend/internal/model"
	"planter-backend/internal/mw"
	"planter-backend/internal/parse"
	"planter-backend/internal/store"
	"planter-backend/internal/telemetry"
)

// TelemetryService is the ingestion and reading side of the core.
type TelemetryService interface {
	IngestTelemetry(ctx context.Context, apiKey string, values parse.Values) (telemetry.IngestResult, error)
	Current(ctx context.Context, plotID int64) (*model.SensorReading, error)
	Aggregate(ctx context.Context, plotID int64, granularity string, count int) (telemetry.AggregateResult, error)
}

// SettingsService is the settings negotiation side of the core.
type SettingsService interface {
	DeviceSettings(ctx context.Context, apiKey string) (model.IrrigationSettings, error)
	DashboardSettings(ctx context.Context, plotID int64) (model.IrrigationSettings, error)
	UpdateSettings(ctx context.Context, plotID int64, u irrigation.Update) (model.IrrigationSettings, error)
	Fire(ctx context.Context, plotID int64, pump int) (model.IrrigationSettings, error)
}

// Accounts resolves users, devices and user plots.
type Accounts interface {
	mw.DeviceResolver
	mw.UserVerifier
	PlotsForUser(ctx context.Context, userUUID string) ([]model.Plot, error)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	telemetry TelemetryService
	settings  SettingsService
	accounts  Accounts
	webpush   *webpush.Options
	cache     *mw.ResponseCache
	logger    *zap.Logger
}

// Deps groups what NewHandler needs.
type Deps struct {
	Store     store.Store
	Telemetry TelemetryService
	Settings  SettingsService
	Accounts  Accounts
	WebPush   *webpush.Options
	Cache     *mw.ResponseCache
	Logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:     d.Store,
		telemetry: d.Telemetry,
		settings:  d.Settings,
		accounts:  d.Accounts,
		webpush:   d.WebPush,
		cache:     d.Cache,
		logger:    logger,
	}
}
