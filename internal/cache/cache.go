package cache

import (
	"context"
	"time"
)

// CarrierIndex maps carrier-assigned ids back to internal message ids so
// status callbacks can skip the database lookup.
type CarrierIndex interface {
	StoreSent(ctx context.Context, messageID, carrierID string, sentAt time.Time) error
	LookupCarrier(ctx context.Context, carrierID string) (string, bool, error)
}

// NopIndex is used when Redis is not configured. Lookups always miss.
type NopIndex struct{}

func (NopIndex) StoreSent(context.Context, string, string, time.Time) error { return nil }

func (NopIndex) LookupCarrier(context.Context, string) (string, bool, error) {
	return "", false, nil
}
