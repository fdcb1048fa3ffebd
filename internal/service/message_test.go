package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testinbox/backend/internal/domain"
	"testinbox/backend/internal/enrichment"
	"testinbox/backend/internal/pool"
	"testinbox/backend/internal/storage"
	"testinbox/backend/internal/storage/memory"
)

type stubEnricher struct {
	calls  atomic.Int32
	failN  int32
	result *domain.Enrichment
}

func (s *stubEnricher) Enrich(_ context.Context, _ *domain.Message) (*domain.Enrichment, error) {
	n := s.calls.Add(1)
	if n <= s.failN {
		return nil, enrichment.ErrUpstream
	}
	return s.result, nil
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool     { return &b }

func seedMessage(t *testing.T, store *memory.Store) (*domain.Message, *domain.Inbox) {
	t.Helper()
	inboxes := NewInboxService(store, testMailboxConfig(), nil, nil)
	inbox, err := inboxes.Create()
	require.NoError(t, err)

	msg, _, err := NewDeliveryService(store, nil, nil).Deliver(DeliveryInput{
		From:    "noreply@service.example",
		To:      inbox.Address,
		Subject: "Your code",
		Text:    "Your code is 123456",
	})
	require.NoError(t, err)
	return msg, inbox
}

func TestMessageService_ApplyEnrichment(t *testing.T) {
	store := memory.NewStore()
	msg, inbox := seedMessage(t, store)
	svc := NewMessageService(store, nil, nil, false, testMetrics(), nil)

	t.Run("空结果被拒绝", func(t *testing.T) {
		_, err := svc.ApplyEnrichment(msg.ID, domain.Enrichment{})
		assert.ErrorIs(t, err, ErrEmptyEnrichment)
	})

	t.Run("写入成功", func(t *testing.T) {
		updated, err := svc.ApplyEnrichment(msg.ID, domain.Enrichment{OTP: strPtr("123456")})
		require.NoError(t, err)
		require.NotNil(t, updated.ExtractedOTP)
		assert.Equal(t, "123456", *updated.ExtractedOTP)
		assert.NotNil(t, updated.EnrichedAt)

		list := svc.ListFor(inbox.Address)
		require.Len(t, list, 1)
		assert.Equal(t, "123456", *list[0].ExtractedOTP)
	})

	t.Run("只能写入一次", func(t *testing.T) {
		_, err := svc.ApplyEnrichment(msg.ID, domain.Enrichment{Link: strPtr("https://x.test")})
		assert.ErrorIs(t, err, storage.ErrAlreadyEnriched)

		got, err := svc.Get(msg.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ExtractedLink)
	})

	t.Run("邮件不存在", func(t *testing.T) {
		_, err := svc.ApplyEnrichment("missing", domain.Enrichment{OTP: strPtr("1")})
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})
}

func TestMessageService_Analyze(t *testing.T) {
	t.Run("失败后可以重试", func(t *testing.T) {
		store := memory.NewStore()
		msg, _ := seedMessage(t, store)
		enricher := &stubEnricher{
			failN:  1,
			result: &domain.Enrichment{OTP: strPtr("123456"), Summary: strPtr("code"), IsSpam: boolPtr(false)},
		}
		svc := NewMessageService(store, enricher, nil, false, nil, nil)

		_, err := svc.Analyze(context.Background(), msg.ID)
		assert.ErrorIs(t, err, enrichment.ErrUpstream)

		got, err := svc.Get(msg.ID)
		require.NoError(t, err)
		assert.False(t, got.Enriched())

		updated, err := svc.Analyze(context.Background(), msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "code", *updated.Summary)
		assert.False(t, *updated.IsSpam)

		_, err = svc.Analyze(context.Background(), msg.ID)
		assert.ErrorIs(t, err, storage.ErrAlreadyEnriched)
		assert.Equal(t, int32(2), enricher.calls.Load())
	})

	t.Run("未配置分析服务", func(t *testing.T) {
		store := memory.NewStore()
		msg, _ := seedMessage(t, store)
		svc := NewMessageService(store, nil, nil, false, nil, nil)

		_, err := svc.Analyze(context.Background(), msg.ID)
		assert.True(t, errors.Is(err, enrichment.ErrNotConfigured))
	})

	t.Run("空结果视为无效响应", func(t *testing.T) {
		store := memory.NewStore()
		msg, _ := seedMessage(t, store)
		svc := NewMessageService(store, &stubEnricher{result: &domain.Enrichment{}}, nil, false, nil, nil)

		_, err := svc.Analyze(context.Background(), msg.ID)
		assert.ErrorIs(t, err, enrichment.ErrInvalidResponse)
	})
}

func TestMessageService_AutoEnrichment(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers := pool.NewWorkerPool(2, 16, nil)
	workers.Start(ctx)
	defer workers.Stop()

	store := memory.NewStore()
	enricher := &stubEnricher{result: &domain.Enrichment{Link: strPtr("https://verify.example/abc")}}
	messages := NewMessageService(store, enricher, workers, true, nil, nil)
	delivery := NewDeliveryService(store, nil, nil, messages)

	inbox, err := NewInboxService(store, testMailboxConfig(), nil, nil).Create()
	require.NoError(t, err)

	routed, _, err := delivery.Deliver(DeliveryInput{To: inbox.Address, Text: "click"})
	require.NoError(t, err)
	_, _, err = delivery.Deliver(DeliveryInput{To: "orphan@example.test", Text: "click"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := messages.Get(routed.ID)
		return err == nil && got.Enriched()
	}, 2*time.Second, 10*time.Millisecond)

	// 孤儿邮件不自动分析
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), enricher.calls.Load())
}
