package model

import "time"

type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

type Message struct {
	ID            string     `json:"id"`
	Content       string     `json:"content"`
	SenderID      string     `json:"senderId"`
	RecipientID   string     `json:"recipientId"`
	BulkMessageID *string    `json:"bulkMessageId,omitempty"`
	Direction     Direction  `json:"direction"`
	CarrierID     *string    `json:"carrierId,omitempty"`
	Status        Status     `json:"status"`
	ErrorCode     *string    `json:"errorCode,omitempty"`
	ErrorMessage  *string    `json:"errorMessage,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ReadAt        *time.Time `json:"readAt,omitempty"`
}

// StatusUpdate is the set of fields a status transition writes. Nil pointers
// leave the stored value untouched.
type StatusUpdate struct {
	Status       Status
	CarrierID    *string
	ErrorCode    *string
	ErrorMessage *string
	At           time.Time
}

type BulkMessage struct {
	ID                string            `json:"id"`
	Content           string            `json:"content"`
	SenderID          string            `json:"senderId"`
	TemplateVariables map[string]string `json:"templateVariables,omitempty"`
	TotalRecipients   int               `json:"totalRecipients"`
	SegmentCount      int               `json:"segmentCount"`
	SuccessCount      int               `json:"successCount"`
	FailureCount      int               `json:"failureCount"`
	CreatedAt         time.Time         `json:"createdAt"`
}

// BulkSummary holds the counters written back once a bulk send completes.
// Uncreated is the number of recipients that never got a message record. It
// is subtracted from the stored total so concurrent retries are not lost.
type BulkSummary struct {
	Uncreated    int
	SegmentCount int
	SuccessCount int
	FailureCount int
}

type Preference struct {
	RecipientID string     `json:"recipientId"`
	OptedOut    bool       `json:"optedOut"`
	OptedOutAt  *time.Time `json:"optedOutAt,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func StringPtr(s string) *string {
	return &s
}
