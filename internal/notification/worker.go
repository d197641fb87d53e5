package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"planter-backend/internal/model"
	"planter-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Alert is one "pump armed" event for a plot.
type Alert struct {
	PlotID   int64  `json:"plot_id"`
	PlotName string `json:"plot_name"`
	Pumps    []int  `json:"pumps"`
}

// payload is what the dashboard service worker receives.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Alert
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Alert
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	logger  *zap.Logger
}

// NewWorkerPool creates a new worker pool. The job queue holds queueSize alerts;
// values below size are raised to size.
func NewWorkerPool(size, queueSize int, s store.Store, webpushOptions *webpush.Options, logger *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queueSize < size {
		queueSize = size
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Alert, queueSize),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debug("Notification worker started", zap.Int("worker", id))
	for {
		select {
		case alert := <-wp.jobs:
			wp.sendNotificationsForPlot(ctx, alert)
		case <-ctx.Done():
			wp.logger.Debug("Notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues an alert. It never blocks; when the queue is full the alert is dropped.
func (wp *WorkerPool) Dispatch(alert Alert) bool {
	select {
	case wp.jobs <- alert:
		return true
	default:
		wp.logger.Warn("Notification queue full, dropping alert", zap.Int64("plot_id", alert.PlotID))
		return false
	}
}

// NotifyArmed queues an alert for the plot's subscribers.
func (wp *WorkerPool) NotifyArmed(plotID int64, plotName string, pumps []int) {
	wp.Dispatch(Alert{PlotID: plotID, PlotName: plotName, Pumps: pumps})
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Alert {
	return wp.jobs
}

// message renders the notification text for an alert.
func message(alert Alert) payload {
	label := alert.PlotName
	if label == "" {
		label = fmt.Sprintf("Plot %d", alert.PlotID)
	}
	pumps := make([]string, len(alert.Pumps))
	for i, p := range alert.Pumps {
		pumps[i] = fmt.Sprintf("%d", p)
	}
	noun := "Pump"
	if len(pumps) > 1 {
		noun = "Pumps"
	}
	return payload{
		Title: label + " needs water",
		Body:  fmt.Sprintf("%s %s armed; the device waters on its next poll.", noun, strings.Join(pumps, " and ")),
		Alert: alert,
	}
}

// sendNotificationsForPlot fetches subscriptions and sends notifications for a given plot.
func (wp *WorkerPool) sendNotificationsForPlot(ctx context.Context, alert Alert) {
	subscriptions, err := wp.store.ListSubscriptionsForPlot(ctx, alert.PlotID)
	if err != nil {
		wp.logger.Error("Error fetching subscriptions", zap.Int64("plot_id", alert.PlotID), zap.Error(err))
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	body, err := json.Marshal(message(alert))
	if err != nil {
		wp.logger.Error("Error encoding notification", zap.Int64("plot_id", alert.PlotID), zap.Error(err))
		return
	}

	wp.logger.Info("Sending notifications", zap.Int("count", len(subscriptions)), zap.Int64("plot_id", alert.PlotID))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, body)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.logger.Warn("Error sending notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.logger.Info("Subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.logger.Error("Failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
