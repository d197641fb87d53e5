package store

import (
	"context"
	"time"

	"planter-backend/internal/model"
)

// Store defines every persistence operation of the service.
// Implementations return apperr NotFound for absent rows and apperr Storage for any other failure.
type Store interface {
	CreateUser(ctx context.Context, user *model.User) error
	FindUserByName(ctx context.Context, name string) (*model.User, error)
	FindUserByUUID(ctx context.Context, uuid string) (*model.User, error)

	// CreatePlot inserts the plot and its settings row atomically.
	CreatePlot(ctx context.Context, plot *model.Plot, settings *model.IrrigationSettings) error
	ListPlotsForUser(ctx context.Context, userID int64) ([]model.Plot, error)
	FindPlotByID(ctx context.Context, plotID int64) (*model.Plot, error)
	FindPlotByAPIKey(ctx context.Context, apiKey string) (*model.Plot, error)
	// LockPlot loads the plot and, where the backend supports it, holds a row lock until the transaction ends.
	LockPlot(ctx context.Context, plotID int64) (*model.Plot, error)
	UpdatePlotLastIrrigation(ctx context.Context, plotID int64, at time.Time) error

	FindCurrentReading(ctx context.Context, plotID int64) (*model.SensorReading, error)
	AppendReading(ctx context.Context, reading *model.SensorReading) error
	UpdateReading(ctx context.Context, reading *model.SensorReading) error
	// ListReadings returns the plot's readings with Timestamp after since, newest first.
	// A zero since returns the whole history.
	ListReadings(ctx context.Context, plotID int64, since time.Time) ([]model.SensorReading, error)

	FindSettings(ctx context.Context, plotID int64) (*model.IrrigationSettings, error)
	UpdateSettings(ctx context.Context, settings *model.IrrigationSettings) error

	PutSubscription(ctx context.Context, sub *model.PushSubscription, plotIDs []int64) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	FindSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, []int64, error)
	ListSubscriptionsForPlot(ctx context.Context, plotID int64) ([]model.PushSubscription, error)

	// Transaction runs fn against a Store bound to one transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}
