package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JimiYounger/connect-sub001/internal/model"
	"github.com/JimiYounger/connect-sub001/internal/service"
)

func recipients(f *fixture, n int) []model.Recipient {
	out := make([]model.Recipient, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, f.addProfile(fmt.Sprintf("u%d", i), fmt.Sprintf("User%d", i), phoneOf(i)))
	}
	return out
}

func TestBulkSend_PartialFailureIsOverallSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	recs := recipients(f, 5)
	f.gw.fail[phoneOf(2)] = errors.New("carrier 500")
	f.gw.fail[phoneOf(4)] = errors.New("carrier 500")

	res, err := f.bulk.Send(context.Background(), service.BulkRequest{
		Content:    "Hello {{firstName}}",
		Recipients: recs,
		SenderID:   "admin",
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.SuccessCount)
	assert.Equal(t, 2, res.FailureCount)
	assert.Equal(t, "2 of 5 messages failed to send", res.Message)
	assert.Equal(t, 5, f.gw.Calls(), "every recipient gets an attempt")

	require.Len(t, res.Results, 5)
	for i, r := range res.Results {
		assert.Equal(t, recs[i].ID, r.RecipientID)
		assert.NotEmpty(t, r.MessageID)
	}
	assert.False(t, res.Results[1].Success)
	assert.NotEmpty(t, res.Results[1].Error)

	b, err := f.store.GetBulk(context.Background(), res.BulkMessageID)
	require.NoError(t, err)
	assert.Equal(t, 5, b.TotalRecipients)
	assert.Equal(t, 3, b.SegmentCount)
	assert.Equal(t, 3, b.SuccessCount)
	assert.Equal(t, 2, b.FailureCount)

	for _, m := range f.store.Messages() {
		require.NotNil(t, m.BulkMessageID)
		assert.Equal(t, res.BulkMessageID, *m.BulkMessageID)
	}
	assert.Equal(t, "Hello User3", f.gw.bodies[phoneOf(3)])
}

func TestBulkSend_AllFailedIsOverallFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	recs := recipients(f, 3)
	for i := 1; i <= 3; i++ {
		f.gw.fail[phoneOf(i)] = errors.New("carrier 500")
	}

	res, err := f.bulk.Send(context.Background(), service.BulkRequest{Content: "hi", Recipients: recs})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Zero(t, res.SuccessCount)
	assert.Equal(t, 3, res.FailureCount)
	assert.Equal(t, "3 of 3 messages failed to send", res.Message)
}

func TestBulkSend_TotalMatchesCreatedRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	recs := recipients(f, 2)
	recs = append(recs, f.addProfile("nophone", "Nia", ""))
	_, _ = f.resolver.SetOptOut(context.Background(), "u2", true, "STOP")

	res, err := f.bulk.Send(context.Background(), service.BulkRequest{Content: "hi", Recipients: recs})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 2, res.FailureCount)
	assert.Empty(t, res.Results[1].MessageID)
	assert.Contains(t, res.Results[1].Error, "opted out")

	b, err := f.store.GetBulk(context.Background(), res.BulkMessageID)
	require.NoError(t, err)
	assert.Equal(t, len(f.store.Messages()), b.TotalRecipients)
	assert.Equal(t, 1, b.TotalRecipients)
}

func TestBulkSend_RespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.build(time.Second, 3)
	recs := recipients(f, 12)
	f.gw.delay = 10 * time.Millisecond

	res, err := f.bulk.Send(context.Background(), service.BulkRequest{Content: "hi", Recipients: recs})
	require.NoError(t, err)
	assert.Equal(t, 12, res.SuccessCount)

	f.gw.mu.Lock()
	defer f.gw.mu.Unlock()
	assert.LessOrEqual(t, f.gw.maxInFlight, 3)
	assert.Equal(t, 12, f.gw.calls)
}

func TestBulkSend_SegmentCountSumsSuccessfulMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	recs := recipients(f, 2)
	f.gw.fail[phoneOf(2)] = errors.New("carrier 500")

	long := ""
	for len(long) < 200 {
		long += "abcdefghij"
	}
	res, err := f.bulk.Send(context.Background(), service.BulkRequest{Content: long, Recipients: recs})
	require.NoError(t, err)

	assert.Equal(t, 2, res.SegmentCount)
	b, _ := f.store.GetBulk(context.Background(), res.BulkMessageID)
	assert.Equal(t, 2, b.SegmentCount)
}

func TestBulkSend_RejectsEmptyInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.bulk.Send(context.Background(), service.BulkRequest{Content: "hi"})
	assert.ErrorIs(t, err, service.ErrNoRecipients)

	_, err = f.bulk.Send(context.Background(), service.BulkRequest{Content: " ", Recipients: recipients(f, 1)})
	assert.ErrorIs(t, err, service.ErrEmptyContent)
}

func TestBulkSend_StoresTemplateVariables(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	recs := recipients(f, 1)

	res, err := f.bulk.Send(context.Background(), service.BulkRequest{
		Content:           "code {{code}} {{missing}}",
		TemplateVariables: map[string]*string{"code": strp("42"), "missing": nil},
		Recipients:        recs,
	})
	require.NoError(t, err)

	b, err := f.store.GetBulk(context.Background(), res.BulkMessageID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"code": "42", "missing": ""}, b.TemplateVariables)
	assert.Equal(t, "code 42 ", f.gw.bodies[phoneOf(1)])
}

func TestBulkSend_CallerCancelDoesNotAbortRemainingRecipients(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.build(time.Second, 1)
	recs := recipients(f, 5)
	f.gw.delay = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := time.AfterFunc(30*time.Millisecond, cancel)
	defer stop.Stop()

	res, err := f.bulk.Send(ctx, service.BulkRequest{Content: "hi", Recipients: recs, SenderID: "admin"})
	require.NoError(t, err)

	assert.Equal(t, 5, res.SuccessCount)
	assert.Zero(t, res.FailureCount)
	assert.Equal(t, 5, f.gw.Calls())
	assert.Len(t, f.store.Messages(), 5)

	b, err := f.store.GetBulk(context.Background(), res.BulkMessageID)
	require.NoError(t, err)
	assert.Equal(t, 5, b.TotalRecipients)
}

func TestBulkSend_RetryDuringBatchKeepsTotal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.build(time.Second, 1)
	recs := recipients(f, 2)
	release := make(chan struct{})
	f.gw.mu.Lock()
	f.gw.fail[phoneOf(1)] = errors.New("carrier 500")
	f.gw.hold[phoneOf(2)] = release
	f.gw.mu.Unlock()

	done := make(chan service.BulkResult, 1)
	go func() {
		res, _ := f.bulk.Send(context.Background(), service.BulkRequest{Content: "hi", Recipients: recs, SenderID: "admin"})
		done <- res
	}()

	require.Eventually(t, func() bool { return f.gw.Calls() == 2 }, time.Second, time.Millisecond)

	var failedID string
	for _, m := range f.store.Messages() {
		if m.RecipientID == "u1" {
			failedID = m.ID
		}
	}
	require.NotEmpty(t, failedID)

	f.gw.mu.Lock()
	delete(f.gw.fail, phoneOf(1))
	f.gw.mu.Unlock()
	retried := f.orch.Retry(context.Background(), failedID)
	require.NoError(t, retried.Err)

	close(release)
	res := <-done

	b, err := f.store.GetBulk(context.Background(), res.BulkMessageID)
	require.NoError(t, err)
	assert.Equal(t, 3, len(f.store.Messages()))
	assert.Equal(t, len(f.store.Messages()), b.TotalRecipients)
}
