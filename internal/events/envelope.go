package events

import "time"

const (
	TypeStatusChanged  = "message.status.v1"
	TypeInboundMessage = "message.inbound.v1"

	producer = "messaging"
)

type Meta struct {
	// Unique event ID
	ID string `json:"id"`
	// Event name and version, e.g. message.status.v1
	Type     string    `json:"type"`
	Producer string    `json:"producer"`
	Time     time.Time `json:"time"`
	// Message the event is about; also used as the AMQP correlation id.
	CorrelationID *string `json:"correlation_id,omitempty"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type StatusChanged struct {
	MessageID     string    `json:"message_id"`
	CarrierID     *string   `json:"carrier_id,omitempty"`
	BulkMessageID *string   `json:"bulk_message_id,omitempty"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	ErrorCode     *string   `json:"error_code,omitempty"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	At            time.Time `json:"at"`
}

type InboundReceived struct {
	MessageID   string    `json:"message_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	At          time.Time `json:"at"`
}
