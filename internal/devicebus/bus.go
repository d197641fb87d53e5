package devicebus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"planter-backend/internal/apperr"
	"planter-backend/internal/model"
	"planter-backend/internal/parse"
	"planter-backend/internal/telemetry"
)

// Ingester accepts telemetry from a device identified by its API key.
type Ingester interface {
	IngestTelemetry(ctx context.Context, apiKey string, values parse.Values) (telemetry.IngestResult, error)
}

// SettingsReader performs the consuming device settings read.
type SettingsReader interface {
	DeviceSettings(ctx context.Context, apiKey string) (model.IrrigationSettings, error)
}

// Bus routes device messages on <prefix>/<api_key>/... topics to the core services.
type Bus struct {
	client   Client
	prefix   string
	ingester Ingester
	settings SettingsReader
	logger   *zap.Logger
}

// New creates a Bus over an established client.
func New(client Client, prefix string, ingester Ingester, settings SettingsReader, logger *zap.Logger) *Bus {
	return &Bus{
		client:   client,
		prefix:   strings.Trim(prefix, "/"),
		ingester: ingester,
		settings: settings,
		logger:   logger,
	}
}

func (b *Bus) telemetryFilter() string { return b.prefix + "/+/telemetry" }
func (b *Bus) settingsFilter() string  { return b.prefix + "/+/settings/get" }

// SettingsTopic is where the settings snapshot for apiKey is published.
func (b *Bus) SettingsTopic(apiKey string) string {
	return fmt.Sprintf("%s/%s/settings", b.prefix, apiKey)
}

// Run subscribes to the device topics and blocks until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	handlers := map[string]MessageHandler{
		b.telemetryFilter(): func(topic string, payload []byte) error { return b.HandleTelemetry(ctx, topic, payload) },
		b.settingsFilter():  func(topic string, _ []byte) error { return b.HandleSettingsRequest(ctx, topic) },
	}
	for filter, h := range handlers {
		if err := b.client.Subscribe(filter, 1, h); err != nil {
			return err
		}
		b.logger.Info("Subscribed to device topic", zap.String("topic", filter))
	}

	<-ctx.Done()

	if err := b.client.Unsubscribe(b.telemetryFilter(), b.settingsFilter()); err != nil {
		b.logger.Warn("Failed to unsubscribe", zap.Error(err))
	}
	b.client.Disconnect()
	return nil
}

// apiKeyFrom extracts the key segment of <prefix>/<api_key>/<suffix>.
func (b *Bus) apiKeyFrom(topic, suffix string) (string, error) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return "", apperr.InvalidInput("unexpected topic %q", topic)
	}
	key, ok := strings.CutSuffix(rest, "/"+suffix)
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", apperr.InvalidInput("unexpected topic %q", topic)
	}
	return key, nil
}

// HandleTelemetry ingests a JSON object of channel name to integer value.
func (b *Bus) HandleTelemetry(ctx context.Context, topic string, payload []byte) error {
	apiKey, err := b.apiKeyFrom(topic, "telemetry")
	if err != nil {
		return err
	}

	var raw map[string]int
	if err := json.Unmarshal(payload, &raw); err != nil {
		return apperr.InvalidInput("telemetry payload is not a channel object: %v", err)
	}
	values, err := parse.ValuesFromMap(raw)
	if err != nil {
		return err
	}

	res, err := b.ingester.IngestTelemetry(ctx, apiKey, values)
	if err != nil {
		return err
	}
	b.logger.Debug("MQTT telemetry ingested", zap.Int64("plot_id", res.PlotID), zap.Bool("merged", res.Merged))
	return nil
}

// HandleSettingsRequest consumes the device's settings and publishes the snapshot.
func (b *Bus) HandleSettingsRequest(ctx context.Context, topic string) error {
	apiKey, err := b.apiKeyFrom(topic, "settings/get")
	if err != nil {
		return err
	}

	snapshot, err := b.settings.DeviceSettings(ctx, apiKey)
	if err != nil {
		return err
	}
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return b.client.Publish(b.SettingsTopic(apiKey), 1, false, body)
}
