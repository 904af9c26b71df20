package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/noah-isme/course-automation/internal/models"
)

const activityPreviewLength = 100

type messagingClient interface {
	SendMessage(ctx context.Context, destination, text string) error
}

type activityLogWriter interface {
	Append(ctx context.Context, entry *models.ActivityLogEntry) error
}

// NotificationDispatcher sends rendered text to a messaging destination and records the attempt.
type NotificationDispatcher struct {
	client   messagingClient
	activity activityLogWriter
	logger   *zap.Logger
}

// NewNotificationDispatcher constructs the dispatcher. client may be nil when messaging is disabled.
func NewNotificationDispatcher(client messagingClient, activity activityLogWriter, logger *zap.Logger) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationDispatcher{client: client, activity: activity, logger: logger}
}

// Dispatch delivers text and reports success. It never returns an error; every
// attempt is written to the activity log.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, destination, text string) bool {
	err := d.send(ctx, destination, text)

	entry := &models.ActivityLogEntry{
		Action:      "telegram-message",
		Destination: destination,
		Description: truncate(text, activityPreviewLength),
		Success:     err == nil,
	}
	if err != nil {
		msg := err.Error()
		entry.Error = &msg
		d.logger.Sugar().Warnw("message dispatch failed", "destination", destination, "error", err)
	}
	if d.activity != nil {
		if logErr := d.activity.Append(ctx, entry); logErr != nil {
			d.logger.Sugar().Errorw("failed to write activity log", "destination", destination, "error", logErr)
		}
	}
	return err == nil
}

func (d *NotificationDispatcher) send(ctx context.Context, destination, text string) (err error) {
	if d.client == nil {
		return errors.New("messaging client is not configured")
	}
	if destination == "" {
		return errors.New("destination is empty")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("messaging client panic: %v", r)
		}
	}()
	return d.client.SendMessage(ctx, destination, text)
}

func truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + "..."
}
