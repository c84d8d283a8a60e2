package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JimiYounger/connect-sub001/internal/model"
	"github.com/JimiYounger/connect-sub001/internal/repo"
)

type BulkRequest struct {
	Content           string
	TemplateVariables map[string]*string
	Recipients        []model.Recipient
	SenderID          string
}

type RecipientResult struct {
	RecipientID string `json:"recipientId"`
	MessageID   string `json:"messageId,omitempty"`
	Success     bool   `json:"success"`
	Segments    int    `json:"segments,omitempty"`
	Error       string `json:"error,omitempty"`
}

type BulkResult struct {
	Success       bool              `json:"success"`
	BulkMessageID string            `json:"bulkMessageId,omitempty"`
	SuccessCount  int               `json:"successCount"`
	FailureCount  int               `json:"failureCount"`
	SegmentCount  int               `json:"segmentCount"`
	Message       string            `json:"message,omitempty"`
	Results       []RecipientResult `json:"results"`
}

type BulkSender struct {
	orch        *Orchestrator
	bulks       repo.BulkRepository
	concurrency int
	log         *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewBulkSender(orch *Orchestrator, bulks repo.BulkRepository, concurrency int) *BulkSender {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BulkSender{
		orch:        orch,
		bulks:       bulks,
		concurrency: concurrency,
		log:         slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

func (b *BulkSender) WithLogger(l *slog.Logger) *BulkSender {
	b.log = l
	return b
}

// Send fans req out to every recipient through the orchestrator with at most
// concurrency carrier calls in flight. A failed recipient never stops the
// others. The batch succeeds when at least one message was accepted.
func (b *BulkSender) Send(ctx context.Context, req BulkRequest) (BulkResult, error) {
	if len(req.Recipients) == 0 {
		return BulkResult{}, ErrNoRecipients
	}
	if strings.TrimSpace(req.Content) == "" {
		return BulkResult{}, ErrEmptyContent
	}

	bulk := &model.BulkMessage{
		ID:                b.newID(),
		Content:           req.Content,
		SenderID:          req.SenderID,
		TemplateVariables: flattenVars(req.TemplateVariables),
		TotalRecipients:   len(req.Recipients),
		CreatedAt:         b.now(),
	}
	if err := b.bulks.CreateBulk(ctx, bulk); err != nil {
		return BulkResult{}, fmt.Errorf("persist bulk message: %w", err)
	}

	// Recipients are attempted even if the caller goes away mid-batch. Each
	// carrier call is still bounded by the orchestrator timeout.
	sendCtx := context.WithoutCancel(ctx)
	results := make([]SendResult, len(req.Recipients))

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, rec := range req.Recipients {
		g.Go(func() error {
			results[i] = b.orch.Send(sendCtx, SendRequest{
				Content:           req.Content,
				RecipientID:       rec.ID,
				SenderID:          req.SenderID,
				TemplateVariables: req.TemplateVariables,
				BulkMessageID:     &bulk.ID,
			})
			return nil
		})
	}
	_ = g.Wait()

	out := BulkResult{
		BulkMessageID: bulk.ID,
		Results:       make([]RecipientResult, len(results)),
	}
	var created int
	for i, r := range results {
		rr := RecipientResult{
			RecipientID: req.Recipients[i].ID,
			MessageID:   r.MessageID,
			Success:     r.Success,
		}
		if r.MessageID != "" {
			created++
		}
		if r.Success {
			out.SuccessCount++
			out.SegmentCount += r.Segments
			rr.Segments = r.Segments
		} else {
			out.FailureCount++
			if r.Err != nil {
				rr.Error = r.Err.Error()
			}
		}
		out.Results[i] = rr
	}

	out.Success = out.SuccessCount > 0
	if out.FailureCount > 0 {
		out.Message = fmt.Sprintf("%d of %d messages failed to send", out.FailureCount, len(results))
	}

	summary := model.BulkSummary{
		Uncreated:    len(results) - created,
		SegmentCount: out.SegmentCount,
		SuccessCount: out.SuccessCount,
		FailureCount: out.FailureCount,
	}
	if err := b.bulks.UpdateBulkSummary(sendCtx, bulk.ID, summary); err != nil {
		b.log.Error("failed to update bulk summary", "bulk_message_id", bulk.ID, "err", err)
	}

	b.log.Info("bulk send completed",
		"bulk_message_id", bulk.ID,
		"recipients", len(req.Recipients),
		"success", out.SuccessCount,
		"failed", out.FailureCount,
		"segments", out.SegmentCount,
	)
	return out, nil
}

func flattenVars(vars map[string]*string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		if v != nil {
			out[k] = *v
		} else {
			out[k] = ""
		}
	}
	return out
}
