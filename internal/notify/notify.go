// Package notify delivers human-readable status notifications (device
// ready, call failed, campaign finished, ...) to whoever is listening:
// the log, a Redis channel, an MQTT topic tree.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Code string

const (
	CodeDeviceReady          Code = "device.ready"
	CodeDeviceFailed         Code = "device.failed"
	CodePermissionRequired   Code = "device.permission_required"
	CodeCallFailed           Code = "call.failed"
	CodeCallFinished         Code = "call.finished"
	CodeIncomingRejected     Code = "call.incoming_rejected"
	CodeTargetFinished       Code = "campaign.target_finished"
	CodeCampaignHalted       Code = "campaign.halted"
	CodeCampaignFinished     Code = "campaign.finished"
	CodeOutcomePersistFailed Code = "outcome.persist_failed"
)

// Notification is one status message. Fields carries structured context
// (call id, target id, the candidate outcome record, ...).
type Notification struct {
	Code    Code           `json:"code"`
	Level   Level          `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
	At      time.Time      `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to slog.
type LogNotifier struct {
	Log *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"code", n.Code}
	for k, v := range n.Fields {
		attrs = append(attrs, k, v)
	}
	switch n.Level {
	case LevelError:
		log.ErrorContext(ctx, n.Message, attrs...)
	case LevelWarn:
		log.WarnContext(ctx, n.Message, attrs...)
	default:
		log.InfoContext(ctx, n.Message, attrs...)
	}
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, x := range m {
		if x == nil {
			continue
		}
		if err := x.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
