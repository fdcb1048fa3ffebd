package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"testinbox/backend/internal/domain"
	"testinbox/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInbox(id, address string, createdAt time.Time) *domain.Inbox {
	local, dom, _ := domain.SplitAddress(address)
	return &domain.Inbox{
		ID:        id,
		Address:   address,
		LocalPart: local,
		Domain:    dom,
		CreatedAt: createdAt,
	}
}

func newMessage(id, to string, receivedAt time.Time) *domain.Message {
	return &domain.Message{
		ID:         id,
		From:       "sender@example.com",
		To:         to,
		Subject:    "Subject " + id,
		TextBody:   "body " + id,
		ReceivedAt: receivedAt,
	}
}

func TestMemoryStore_InboxOperations(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	require.NoError(t, store.AddInbox(newInbox("inbox-1", "test-aaa@temp.mail", now)))
	require.NoError(t, store.AddInbox(newInbox("inbox-2", "test-bbb@temp.mail", now.Add(time.Second))))

	t.Run("按ID获取", func(t *testing.T) {
		inbox, err := store.GetInbox("inbox-1")
		require.NoError(t, err)
		assert.Equal(t, "test-aaa@temp.mail", inbox.Address)
		assert.Equal(t, 0, inbox.MessageCount)
	})

	t.Run("按地址获取（大小写不敏感）", func(t *testing.T) {
		inbox, err := store.FindInboxByAddress("TEST-BBB@Temp.Mail")
		require.NoError(t, err)
		assert.Equal(t, "inbox-2", inbox.ID)
	})

	t.Run("按创建顺序列出", func(t *testing.T) {
		inboxes := store.ListInboxes()
		require.Len(t, inboxes, 2)
		assert.Equal(t, "inbox-1", inboxes[0].ID)
		assert.Equal(t, "inbox-2", inboxes[1].ID)
	})

	t.Run("地址重复", func(t *testing.T) {
		err := store.AddInbox(newInbox("inbox-3", "Test-AAA@temp.mail", now))
		assert.ErrorIs(t, err, ErrAddressTaken)
	})

	t.Run("不存在的收件箱", func(t *testing.T) {
		_, err := store.GetInbox("missing")
		assert.ErrorIs(t, err, ErrInboxNotFound)
		_, err = store.FindInboxByAddress("missing@temp.mail")
		assert.ErrorIs(t, err, ErrInboxNotFound)
	})

	t.Run("删除不存在的ID为空操作", func(t *testing.T) {
		removed, err := store.RemoveInbox("missing")
		require.NoError(t, err)
		assert.False(t, removed)
		assert.Len(t, store.ListInboxes(), 2)
	})

	t.Run("返回的快照与存储隔离", func(t *testing.T) {
		inbox, err := store.GetInbox("inbox-1")
		require.NoError(t, err)
		inbox.Address = "changed@temp.mail"
		inbox.MessageCount = 42

		again, err := store.GetInbox("inbox-1")
		require.NoError(t, err)
		assert.Equal(t, "test-aaa@temp.mail", again.Address)
		assert.Equal(t, 0, again.MessageCount)
	})
}

func TestMemoryStore_MessageOperations(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()
	require.NoError(t, store.AddInbox(newInbox("inbox-1", "test-aaa@temp.mail", now)))

	owner, err := store.AddMessage(newMessage("m1", "test-aaa@temp.mail", now))
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, 1, owner.MessageCount)

	owner, err = store.AddMessage(newMessage("m2", "TEST-AAA@TEMP.MAIL", now.Add(time.Second)))
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, 2, owner.MessageCount)

	t.Run("最新的在前", func(t *testing.T) {
		msgs := store.ListMessagesFor("Test-Aaa@temp.mail")
		require.Len(t, msgs, 2)
		assert.Equal(t, "m2", msgs[0].ID)
		assert.Equal(t, "m1", msgs[1].ID)
	})

	t.Run("计数与邮件数量一致", func(t *testing.T) {
		inbox, err := store.GetInbox("inbox-1")
		require.NoError(t, err)
		assert.Equal(t, len(store.ListMessagesFor(inbox.Address)), inbox.MessageCount)
	})

	t.Run("未知地址返回空列表", func(t *testing.T) {
		msgs := store.ListMessagesFor("nobody@temp.mail")
		assert.NotNil(t, msgs)
		assert.Empty(t, msgs)
	})

	t.Run("孤儿邮件保留但不计数", func(t *testing.T) {
		owner, err := store.AddMessage(newMessage("m3", "other@temp.mail", now))
		require.NoError(t, err)
		assert.Nil(t, owner)

		msg, err := store.GetMessage("m3")
		require.NoError(t, err)
		assert.Equal(t, "other@temp.mail", msg.To)
		assert.Equal(t, 1, store.Stats().OrphanMessages)

		// 孤儿邮件占用的地址不能再创建收件箱
		err = store.AddInbox(newInbox("inbox-x", "other@temp.mail", now))
		assert.ErrorIs(t, err, ErrAddressTaken)
	})

	t.Run("缺少收件人", func(t *testing.T) {
		_, err := store.AddMessage(newMessage("m4", "  ", now))
		assert.ErrorIs(t, err, storage.ErrMissingRecipient)
	})

	t.Run("不存在的邮件", func(t *testing.T) {
		_, err := store.GetMessage("missing")
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})
}

func TestMemoryStore_RemoveInboxCascades(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()
	require.NoError(t, store.AddInbox(newInbox("inbox-1", "test-aaa@temp.mail", now)))
	require.NoError(t, store.AddInbox(newInbox("inbox-2", "test-bbb@temp.mail", now)))

	for i := 0; i < 3; i++ {
		_, err := store.AddMessage(newMessage(fmt.Sprintf("a%d", i), "test-aaa@temp.mail", now))
		require.NoError(t, err)
	}
	_, err := store.AddMessage(newMessage("b0", "test-bbb@temp.mail", now))
	require.NoError(t, err)

	removed, err := store.RemoveInbox("inbox-1")
	require.NoError(t, err)
	assert.True(t, removed)

	assert.Empty(t, store.ListMessagesFor("test-aaa@temp.mail"))
	_, err = store.GetMessage("a0")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	// 其他收件箱不受影响
	assert.Len(t, store.ListMessagesFor("test-bbb@temp.mail"), 1)
	assert.Equal(t, storage.Stats{Inboxes: 1, Messages: 1}, store.Stats())

	// 删除后地址可复用，新收件箱从 0 开始计数
	require.NoError(t, store.AddInbox(newInbox("inbox-3", "test-aaa@temp.mail", now)))
	inbox, err := store.GetInbox("inbox-3")
	require.NoError(t, err)
	assert.Equal(t, 0, inbox.MessageCount)

	removed, err = store.RemoveInbox("inbox-1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemoryStore_SetEnrichment(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()
	_, err := store.AddMessage(newMessage("m1", "test-aaa@temp.mail", now))
	require.NoError(t, err)

	otp := "482913"
	msg, err := store.SetEnrichment("m1", domain.Enrichment{OTP: &otp}, now)
	require.NoError(t, err)
	require.NotNil(t, msg.ExtractedOTP)
	assert.Equal(t, otp, *msg.ExtractedOTP)
	assert.True(t, msg.Enriched())

	t.Run("只能写入一次", func(t *testing.T) {
		other := "000000"
		_, err := store.SetEnrichment("m1", domain.Enrichment{OTP: &other}, now)
		assert.ErrorIs(t, err, storage.ErrAlreadyEnriched)

		stored, err := store.GetMessage("m1")
		require.NoError(t, err)
		assert.Equal(t, otp, *stored.ExtractedOTP)
	})

	t.Run("修改返回值不影响存储", func(t *testing.T) {
		stored, err := store.GetMessage("m1")
		require.NoError(t, err)
		*stored.ExtractedOTP = "tampered"

		again, err := store.GetMessage("m1")
		require.NoError(t, err)
		assert.Equal(t, otp, *again.ExtractedOTP)
	})

	t.Run("不存在的邮件", func(t *testing.T) {
		_, err := store.SetEnrichment("missing", domain.Enrichment{OTP: &otp}, now)
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	store := NewStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.AddInbox(newInbox("old", "test-old@temp.mail", now.Add(-48*time.Hour))))
	require.NoError(t, store.AddInbox(newInbox("new", "test-new@temp.mail", now.Add(-time.Hour))))

	_, err := store.AddMessage(newMessage("o1", "test-old@temp.mail", now.Add(-47*time.Hour)))
	require.NoError(t, err)
	_, err = store.AddMessage(newMessage("n1", "test-new@temp.mail", now.Add(-30*time.Minute)))
	require.NoError(t, err)
	_, err = store.AddMessage(newMessage("stale", "nobody@temp.mail", now.Add(-2*time.Hour)))
	require.NoError(t, err)
	_, err = store.AddMessage(newMessage("fresh", "nobody@temp.mail", now.Add(-10*time.Minute)))
	require.NoError(t, err)

	result := store.PurgeExpired(now, 24*time.Hour, time.Hour)
	assert.Equal(t, storage.PurgeResult{Inboxes: 1, Messages: 1, Orphans: 1}, result)

	_, err = store.GetInbox("old")
	assert.ErrorIs(t, err, ErrInboxNotFound)
	_, err = store.GetInbox("new")
	assert.NoError(t, err)

	orphans := store.ListMessagesFor("nobody@temp.mail")
	require.Len(t, orphans, 1)
	assert.Equal(t, "fresh", orphans[0].ID)

	t.Run("TTL为0不过期", func(t *testing.T) {
		result := store.PurgeExpired(now.Add(1000*time.Hour), 0, 0)
		assert.Equal(t, storage.PurgeResult{}, result)
		assert.Len(t, store.ListInboxes(), 1)
	})
}

func TestMemoryStore_ConcurrentAddMessage(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()
	require.NoError(t, store.AddInbox(newInbox("inbox-1", "test-aaa@temp.mail", now)))

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AddMessage(newMessage(fmt.Sprintf("m%d", i), "test-aaa@temp.mail", now))
			assert.NoError(t, err)
			_ = store.ListMessagesFor("test-aaa@temp.mail")
		}(i)
	}
	wg.Wait()

	inbox, err := store.GetInbox("inbox-1")
	require.NoError(t, err)
	assert.Equal(t, n, inbox.MessageCount)
	assert.Len(t, store.ListMessagesFor("test-aaa@temp.mail"), n)
}

func TestMemoryStore_ConcurrentDeleteAndDeliver(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()
	require.NoError(t, store.AddInbox(newInbox("inbox-1", "test-aaa@temp.mail", now)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.AddMessage(newMessage(fmt.Sprintf("m%d", i), "test-aaa@temp.mail", now))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = store.RemoveInbox("inbox-1")
	}()
	wg.Wait()

	// 删除之后到达的邮件成为孤儿；已删除收件箱不会残留计数
	_, err := store.GetInbox("inbox-1")
	assert.ErrorIs(t, err, ErrInboxNotFound)
	stats := store.Stats()
	assert.Equal(t, 0, stats.Inboxes)
	assert.Equal(t, stats.Messages, stats.OrphanMessages)
}

func TestMemoryStore_Close(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Health())
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Health(), storage.ErrStoreClosed)
	assert.ErrorIs(t, store.AddInbox(newInbox("i", "a@b.c", time.Now())), storage.ErrStoreClosed)
	_, err := store.AddMessage(newMessage("m", "a@b.c", time.Now()))
	assert.ErrorIs(t, err, storage.ErrStoreClosed)
}
