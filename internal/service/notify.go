package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/JimiYounger/connect-sub001/internal/events"
	"github.com/JimiYounger/connect-sub001/internal/model"
)

// notifier publishes lifecycle events. Publish failures are logged and
// never fail the operation that caused them.
type notifier struct {
	pub events.Publisher
	log *slog.Logger
}

func (n notifier) statusChanged(ctx context.Context, m model.Message, from model.Status, at time.Time) {
	err := n.pub.Publish(ctx, events.TypeStatusChanged, m.ID, events.StatusChanged{
		MessageID:     m.ID,
		CarrierID:     m.CarrierID,
		BulkMessageID: m.BulkMessageID,
		From:          string(from),
		To:            string(m.Status),
		ErrorCode:     m.ErrorCode,
		ErrorMessage:  m.ErrorMessage,
		At:            at,
	})
	if err != nil {
		n.log.Warn("status event publish failed", "message_id", m.ID, "status", m.Status, "err", err)
	}
}

func (n notifier) inbound(ctx context.Context, m model.Message) {
	err := n.pub.Publish(ctx, events.TypeInboundMessage, m.ID, events.InboundReceived{
		MessageID:   m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		At:          m.CreatedAt,
	})
	if err != nil {
		n.log.Warn("inbound event publish failed", "message_id", m.ID, "err", err)
	}
}
