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
	"github.com/JimiYounger/connect-sub001/internal/segment"
	"github.com/JimiYounger/connect-sub001/internal/template"
)

type SendRequest struct {
	Content           string
	RecipientID       string
	SenderID          string
	TemplateVariables map[string]*string
	BulkMessageID     *string
}

// SendResult is returned for every send, successful or not. MessageID is
// set whenever a message record was created.
type SendResult struct {
	Success   bool
	MessageID string
	CarrierID string
	Segments  int
	Err       error
}

// stampAttempts bounds how often the carrier id stamp re-reads a message
// that a callback moved concurrently.
const stampAttempts = 3

type Orchestrator struct {
	resolver *recipient.Resolver
	messages repo.MessageRepository
	bulks    repo.BulkRepository
	gateway  client.Gateway

	timeout     time.Duration
	callbackURL string
	order       recipient.CheckOrder

	index  cache.CarrierIndex
	notify notifier
	log    *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewOrchestrator(
	resolver *recipient.Resolver,
	messages repo.MessageRepository,
	bulks repo.BulkRepository,
	gateway client.Gateway,
	timeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		messages: messages,
		bulks:    bulks,
		gateway:  gateway,
		timeout:  timeout,
		order:    recipient.OptOutFirst,
		index:    cache.NopIndex{},
		notify:   notifier{pub: events.NopPublisher{}, log: slog.Default()},
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (o *Orchestrator) WithCallbackURL(url string) *Orchestrator {
	o.callbackURL = url
	return o
}

func (o *Orchestrator) WithCarrierIndex(idx cache.CarrierIndex) *Orchestrator {
	o.index = idx
	return o
}

func (o *Orchestrator) WithPublisher(p events.Publisher) *Orchestrator {
	o.notify.pub = p
	return o
}

func (o *Orchestrator) WithLogger(l *slog.Logger) *Orchestrator {
	o.log = l
	o.notify.log = l
	return o
}

// Send runs one outbound message through precheck, persistence and carrier
// submission. Prechecks that fail leave no record behind. Once the record
// exists the result always carries its id.
func (o *Orchestrator) Send(ctx context.Context, req SendRequest) SendResult {
	if strings.TrimSpace(req.Content) == "" {
		return SendResult{Err: ErrEmptyContent}
	}

	rec, err := o.resolver.Lookup(ctx, req.RecipientID)
	if err != nil {
		return SendResult{Err: err}
	}
	if rec == nil {
		return SendResult{Err: fmt.Errorf("%w: %s", ErrRecipientNotFound, req.RecipientID)}
	}

	optedOut := o.resolver.HasUserOptedOut(ctx, rec.ID)
	switch recipient.Reason(o.order, rec.HasPhone(), optedOut) {
	case recipient.ReasonOptedOut:
		return SendResult{Err: ErrRecipientOptedOut}
	case recipient.ReasonMissingPhone:
		return SendResult{Err: ErrMissingPhoneNumber}
	}

	body := template.Render(req.Content, *rec, req.TemplateVariables)
	info := segment.Calculate(body)
	if info.OverLimit {
		return SendResult{Segments: info.Segments, Err: fmt.Errorf("%w: %d characters", ErrContentOverLimit, info.Characters)}
	}

	now := o.now()
	msg := &model.Message{
		ID:            o.newID(),
		Content:       body,
		SenderID:      req.SenderID,
		RecipientID:   rec.ID,
		BulkMessageID: req.BulkMessageID,
		Direction:     model.Outbound,
		Status:        model.Queued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.messages.Create(ctx, msg); err != nil {
		return SendResult{Err: fmt.Errorf("persist message: %w", err)}
	}

	res := SendResult{MessageID: msg.ID, Segments: info.Segments}

	sub, gwErr := o.submit(ctx, *rec.Phone, body)
	if gwErr != nil {
		o.recordFailure(ctx, msg, gwErr)
		res.Err = gwErr
		return res
	}

	if err := o.index.StoreSent(ctx, msg.ID, sub.CarrierID, o.now()); err != nil {
		o.log.Warn("carrier index write failed",
			"message_id", msg.ID,
			"carrier_id", sub.CarrierID,
			"err", err,
		)
	}
	if err := o.stampCarrier(context.WithoutCancel(ctx), msg, sub.CarrierID); err != nil {
		// The carrier has the message; only our bookkeeping is behind.
		o.log.Error("failed to record carrier acceptance",
			"message_id", msg.ID,
			"carrier_id", sub.CarrierID,
			"err", err,
		)
	}

	res.Success = true
	res.CarrierID = sub.CarrierID
	return res
}

func (o *Orchestrator) submit(ctx context.Context, phone, body string) (client.SubmitResult, *GatewayError) {
	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	sub, err := o.gateway.Submit(callCtx, client.SubmitRequest{
		To:                phone,
		Body:              body,
		StatusCallbackURL: o.callbackURL,
	})
	if err != nil {
		timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
		return client.SubmitResult{}, &GatewayError{Timeout: timeout, Err: err}
	}
	if sub.CarrierID == "" {
		return client.SubmitResult{}, &GatewayError{Err: errors.New("carrier returned no message id")}
	}
	return sub, nil
}

// recordFailure moves a queued message to failed. It runs detached from the
// caller's cancellation so a timed out request still leaves a final status.
func (o *Orchestrator) recordFailure(ctx context.Context, msg *model.Message, gwErr *GatewayError) {
	ctx = context.WithoutCancel(ctx)

	u := model.StatusUpdate{
		Status:       model.Failed,
		ErrorCode:    model.StringPtr(gwErr.errorCode()),
		ErrorMessage: model.StringPtr(gwErr.Error()),
		At:           o.now(),
	}
	ok, err := o.messages.Transition(ctx, msg.ID, model.Queued, u)
	if err != nil {
		o.log.Error("failed to record send failure", "message_id", msg.ID, "err", err)
		return
	}
	if !ok {
		o.log.Warn("message left queued before failure was recorded", "message_id", msg.ID)
		return
	}

	o.log.Warn("message send failed",
		"message_id", msg.ID,
		"recipient_id", msg.RecipientID,
		"timeout", gwErr.Timeout,
		"err", gwErr.Err,
	)
	msg.Status = model.Failed
	msg.ErrorCode, msg.ErrorMessage = u.ErrorCode, u.ErrorMessage
	o.notify.statusChanged(ctx, *msg, model.Queued, u.At)
}

// stampCarrier moves the message from queued to sending and records the
// carrier id. A status callback can overtake this step, in which case the
// carrier id is written without touching the newer status.
func (o *Orchestrator) stampCarrier(ctx context.Context, msg *model.Message, carrierID string) error {
	cur := *msg
	for range stampAttempts {
		u := model.StatusUpdate{Status: model.Sending, CarrierID: &carrierID, At: o.now()}
		if cur.Status != model.Queued {
			u.Status = cur.Status
		}

		ok, err := o.messages.Transition(ctx, cur.ID, cur.Status, u)
		if err != nil {
			return err
		}
		if ok {
			if u.Status == model.Sending {
				cur.Status, cur.CarrierID = model.Sending, &carrierID
				o.notify.statusChanged(ctx, cur, model.Queued, u.At)
			}
			return nil
		}

		cur, err = o.messages.Get(ctx, cur.ID)
		if err != nil {
			return err
		}
	}
	return ErrTransitionRace
}

// Retry resends a failed outbound message as a new message with the same
// content, recipient, sender and bulk parent.
func (o *Orchestrator) Retry(ctx context.Context, messageID string) SendResult {
	orig, err := o.messages.Get(ctx, messageID)
	if errors.Is(err, repo.ErrNotFound) {
		return SendResult{Err: ErrMessageNotFound}
	}
	if err != nil {
		return SendResult{Err: err}
	}
	if orig.Direction != model.Outbound || orig.Status != model.Failed {
		return SendResult{Err: ErrNotRetryable}
	}

	res := o.Send(ctx, SendRequest{
		Content:       orig.Content,
		RecipientID:   orig.RecipientID,
		SenderID:      orig.SenderID,
		BulkMessageID: orig.BulkMessageID,
	})

	if res.MessageID != "" && orig.BulkMessageID != nil {
		if err := o.bulks.IncrementBulkRecipients(context.WithoutCancel(ctx), *orig.BulkMessageID, 1); err != nil {
			o.log.Error("failed to count retry in bulk total",
				"bulk_message_id", *orig.BulkMessageID,
				"message_id", res.MessageID,
				"err", err,
			)
		}
	}

	o.log.Info("message retried",
		"original_id", orig.ID,
		"message_id", res.MessageID,
		"success", res.Success,
	)
	return res
}
