package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JimiYounger/connect-sub001/internal/cache"
	"github.com/JimiYounger/connect-sub001/internal/client"
	"github.com/JimiYounger/connect-sub001/internal/events"
	"github.com/JimiYounger/connect-sub001/internal/model"
	"github.com/JimiYounger/connect-sub001/internal/recipient"
	"github.com/JimiYounger/connect-sub001/internal/repo"
)

// Callback is one carrier status report, already decoded from the webhook.
type Callback struct {
	CarrierMessageID string
	Status           string
	ErrorCode        string
	ErrorMessage     string
}

type ApplyOutcome struct {
	Applied   bool         `json:"applied"`
	MessageID string       `json:"messageId,omitempty"`
	From      model.Status `json:"from,omitempty"`
	To        model.Status `json:"to,omitempty"`
}

type InboundSMS struct {
	From             string
	Body             string
	CarrierMessageID string
}

const casAttempts = 3

var (
	optOutKeywords = map[string]struct{}{
		"STOP": {}, "STOPALL": {}, "UNSUBSCRIBE": {}, "CANCEL": {}, "END": {}, "QUIT": {},
	}
	optInKeywords = map[string]struct{}{
		"START": {}, "UNSTOP": {}, "YES": {},
	}
)

type Reconciler struct {
	messages    repo.MessageRepository
	resolver    *recipient.Resolver
	index       cache.CarrierIndex
	notify      notifier
	log         *slog.Logger
	countryCode string

	now   func() time.Time
	newID func() string
}

func NewReconciler(messages repo.MessageRepository, resolver *recipient.Resolver) *Reconciler {
	return &Reconciler{
		messages:    messages,
		resolver:    resolver,
		index:       cache.NopIndex{},
		notify:      notifier{pub: events.NopPublisher{}, log: slog.Default()},
		log:         slog.Default(),
		countryCode: "1",
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

func (r *Reconciler) WithCarrierIndex(idx cache.CarrierIndex) *Reconciler {
	r.index = idx
	return r
}

func (r *Reconciler) WithPublisher(p events.Publisher) *Reconciler {
	r.notify.pub = p
	return r
}

func (r *Reconciler) WithLogger(l *slog.Logger) *Reconciler {
	r.log = l
	r.notify.log = l
	return r
}

func (r *Reconciler) WithCountryCode(cc string) *Reconciler {
	r.countryCode = cc
	return r
}

// Apply folds a carrier status report into the message it refers to. Reports
// for unknown carrier ids are ignored. Reports that would move a message
// backwards or out of a terminal state are dropped, so replays and
// out-of-order deliveries are harmless.
func (r *Reconciler) Apply(ctx context.Context, cb Callback) (ApplyOutcome, error) {
	if strings.TrimSpace(cb.CarrierMessageID) == "" {
		return ApplyOutcome{}, fmt.Errorf("%w: missing carrier message id", ErrInvalidCallback)
	}
	next, err := model.ParseCarrierStatus(cb.Status)
	if err != nil {
		return ApplyOutcome{}, fmt.Errorf("%w: %w", ErrUnknownStatus, err)
	}

	cur, found, err := r.lookup(ctx, cb.CarrierMessageID)
	if err != nil {
		return ApplyOutcome{}, err
	}
	if !found {
		r.log.Info("status callback for unknown carrier id ignored",
			"carrier_id", cb.CarrierMessageID,
			"status", cb.Status,
		)
		return ApplyOutcome{}, nil
	}

	for range casAttempts {
		if !model.CanTransition(cur.Status, next) {
			r.log.Info("stale status callback ignored",
				"message_id", cur.ID,
				"current", cur.Status,
				"reported", next,
			)
			return ApplyOutcome{MessageID: cur.ID, From: cur.Status, To: cur.Status}, nil
		}

		u := model.StatusUpdate{
			Status:    next,
			CarrierID: &cb.CarrierMessageID,
			At:        r.now(),
		}
		if cb.ErrorCode != "" {
			u.ErrorCode = &cb.ErrorCode
		}
		if cb.ErrorMessage != "" {
			u.ErrorMessage = &cb.ErrorMessage
		}

		var ok bool
		if cur.CarrierID != nil {
			ok, err = r.messages.TransitionByCarrierID(ctx, *cur.CarrierID, cur.Status, u)
		} else {
			// Callback overtook the orchestrator; only the index knows the id.
			ok, err = r.messages.Transition(ctx, cur.ID, cur.Status, u)
		}
		if err != nil {
			return ApplyOutcome{}, fmt.Errorf("apply status %s to %s: %w", next, cur.ID, err)
		}
		if ok {
			from := cur.Status
			cur.Status, cur.CarrierID = next, u.CarrierID
			if u.ErrorCode != nil {
				cur.ErrorCode = u.ErrorCode
			}
			if u.ErrorMessage != nil {
				cur.ErrorMessage = u.ErrorMessage
			}
			r.log.Info("message status updated",
				"message_id", cur.ID,
				"from", from,
				"to", next,
			)
			r.notify.statusChanged(ctx, cur, from, u.At)
			return ApplyOutcome{Applied: true, MessageID: cur.ID, From: from, To: next}, nil
		}

		cur, err = r.messages.Get(ctx, cur.ID)
		if err != nil {
			return ApplyOutcome{}, err
		}
	}
	return ApplyOutcome{}, ErrTransitionRace
}

func (r *Reconciler) lookup(ctx context.Context, carrierID string) (model.Message, bool, error) {
	id, ok, err := r.index.LookupCarrier(ctx, carrierID)
	if err != nil {
		r.log.Warn("carrier index lookup failed", "carrier_id", carrierID, "err", err)
	}
	if ok {
		m, err := r.messages.Get(ctx, id)
		if err == nil {
			return m, true, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return model.Message{}, false, err
		}
	}

	m, err := r.messages.GetByCarrierID(ctx, carrierID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Message{}, false, nil
	}
	if err != nil {
		return model.Message{}, false, err
	}
	return m, true, nil
}

// MarkRead marks one inbound message addressed to readerID as read. It
// reports false when there was nothing to change.
func (r *Reconciler) MarkRead(ctx context.Context, readerID, messageID string) (bool, error) {
	ok, err := r.messages.MarkRead(ctx, readerID, messageID, r.now())
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	if _, err := r.messages.Get(ctx, messageID); errors.Is(err, repo.ErrNotFound) {
		return false, ErrMessageNotFound
	} else if err != nil {
		return false, err
	}
	return false, nil
}

// MarkConversationRead marks every unread inbound message from otherID to
// readerID as read and returns how many changed.
func (r *Reconciler) MarkConversationRead(ctx context.Context, readerID, otherID string) (int64, error) {
	n, err := r.messages.MarkConversationRead(ctx, readerID, otherID, r.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("conversation marked read", "reader_id", readerID, "other_id", otherID, "count", n)
	}
	return n, nil
}

// RecordInbound stores a reply from a known profile. The reply is addressed
// to whoever last messaged that profile. Opt-out and opt-in keywords update
// the sender's preference.
func (r *Reconciler) RecordInbound(ctx context.Context, in InboundSMS) (model.Message, error) {
	sender, err := r.resolver.LookupByPhone(ctx, strings.TrimSpace(in.From))
	if err != nil {
		return model.Message{}, err
	}
	if sender == nil {
		if normalized := client.NormalizePhone(in.From, r.countryCode); normalized != strings.TrimSpace(in.From) {
			if sender, err = r.resolver.LookupByPhone(ctx, normalized); err != nil {
				return model.Message{}, err
			}
		}
	}
	if sender == nil {
		return model.Message{}, ErrUnknownSender
	}

	last, err := r.messages.LatestOutboundTo(ctx, sender.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Message{}, ErrNoConversation
	}
	if err != nil {
		return model.Message{}, err
	}

	switch keyword := strings.ToUpper(strings.TrimSpace(in.Body)); {
	case contains(optOutKeywords, keyword):
		if _, err := r.resolver.SetOptOut(ctx, sender.ID, true, "keyword:"+keyword); err != nil {
			return model.Message{}, err
		}
	case contains(optInKeywords, keyword):
		if _, err := r.resolver.SetOptOut(ctx, sender.ID, false, "keyword:"+keyword); err != nil {
			return model.Message{}, err
		}
	}

	now := r.now()
	msg := model.Message{
		ID:          r.newID(),
		Content:     in.Body,
		SenderID:    sender.ID,
		RecipientID: last.SenderID,
		Direction:   model.Inbound,
		Status:      model.Delivered,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.CarrierMessageID != "" {
		msg.CarrierID = &in.CarrierMessageID
	}
	if err := r.messages.Create(ctx, &msg); err != nil {
		return model.Message{}, fmt.Errorf("persist inbound message: %w", err)
	}

	r.log.Info("inbound message recorded",
		"message_id", msg.ID,
		"sender_id", msg.SenderID,
		"recipient_id", msg.RecipientID,
	)
	r.notify.inbound(ctx, msg)
	return msg, nil
}

func contains(set map[string]struct{}, k string) bool {
	_, ok := set[k]
	return ok
}
