package repo

import (
	"context"
	"errors"
	"time"

	"github.com/JimiYounger/connect-sub001/internal/model"
)

var ErrNotFound = errors.New("not found")

type MessageRepository interface {
	Create(ctx context.Context, m *model.Message) error
	Get(ctx context.Context, id string) (model.Message, error)
	GetByCarrierID(ctx context.Context, carrierID string) (model.Message, error)

	// Transition applies u only while the stored status still equals from.
	// It reports whether a row changed.
	Transition(ctx context.Context, id string, from model.Status, u model.StatusUpdate) (bool, error)
	TransitionByCarrierID(ctx context.Context, carrierID string, from model.Status, u model.StatusUpdate) (bool, error)

	ListConversation(ctx context.Context, userA, userB string, limit, offset int) ([]model.Message, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Message, error)
	LatestOutboundTo(ctx context.Context, recipientID string) (model.Message, error)

	MarkRead(ctx context.Context, readerID, messageID string, at time.Time) (bool, error)
	MarkConversationRead(ctx context.Context, readerID, otherID string, at time.Time) (int64, error)

	// FailStaleQueued fails outbound messages still queued before the cutoff.
	FailStaleQueued(ctx context.Context, before time.Time, reason string) (int64, error)
}

type BulkRepository interface {
	CreateBulk(ctx context.Context, b *model.BulkMessage) error
	GetBulk(ctx context.Context, id string) (model.BulkMessage, error)
	UpdateBulkSummary(ctx context.Context, id string, s model.BulkSummary) error
	IncrementBulkRecipients(ctx context.Context, id string, n int) error
}

// PreferenceRepository returns a nil preference, not an error, when a
// recipient has never opted in or out.
type PreferenceRepository interface {
	GetPreference(ctx context.Context, recipientID string) (*model.Preference, error)
	UpsertPreference(ctx context.Context, recipientID string, optedOut bool, reason string) (model.Preference, error)
	ListOptedOut(ctx context.Context) ([]string, error)
}

type DirectoryQuery struct {
	Filter       model.OrganizationFilter
	RequirePhone bool
	ExcludeIDs   []string
	Limit        int
	Offset       int
}

// Directory is the read-only user profile source. Lookups return a nil
// profile when nothing matches.
type Directory interface {
	FindProfiles(ctx context.Context, q DirectoryQuery) ([]model.Profile, int, error)
	FindProfileByID(ctx context.Context, id string) (*model.Profile, error)
	FindProfileByPhone(ctx context.Context, phone string) (*model.Profile, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
