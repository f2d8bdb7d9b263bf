package services

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/pkg/cache"
	"github.com/akinalp/forumchat/ws"
)

// maxNoticePreview is the longest preview kept on a notice, in runes.
const maxNoticePreview = 80

// NotificationDispatcher turns messages from peers whose conversation is
// not open into transient notices.
//
//   - Notify: one notice per call; it disappears after the TTL (5s default).
//   - Act: open the conversation with the sender and drop the notice now.
//   - Dismiss: drop the notice without opening anything.
//
// Each notice is published as ws.OpNotice; its removal, whatever the cause,
// as ws.OpNoticeDismiss.
type NotificationDispatcher interface {
	HandleMessage(msg models.Message) bool
	Notify(senderID, senderNickname, preview string) models.Notice
	Act(ctx context.Context, noticeID string) error
	Dismiss(noticeID string) bool
	Active() []models.Notice
	Close()
}

// ConversationOpener opens the conversation with a peer, the same way a
// roster selection does.
type ConversationOpener func(ctx context.Context, peerID string) error

type notificationService struct {
	notices     *cache.TTLCache[string, models.Notice]
	hub         ws.EventPublisher
	localUserID string
	openPeer    func() string
	open        ConversationOpener

	// cases.Caser is stateful and not safe for concurrent use.
	casMu sync.Mutex
	caser cases.Caser
}

// NewNotificationDispatcher creates a dispatcher. openPeer reports the peer
// of the open conversation ("" when none); open is called by Act.
func NewNotificationDispatcher(
	hub ws.EventPublisher,
	localUserID string,
	ttl time.Duration,
	openPeer func() string,
	open ConversationOpener,
) NotificationDispatcher {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	cleanup := ttl / 10
	if cleanup < 50*time.Millisecond {
		cleanup = 50 * time.Millisecond
	}

	s := &notificationService{
		notices:     cache.New[string, models.Notice](ttl, cleanup),
		hub:         hub,
		localUserID: localUserID,
		openPeer:    openPeer,
		open:        open,
		caser:       cases.Title(language.Und),
	}

	s.notices.OnEvict(func(id string, _ models.Notice, reason cache.EvictReason) {
		s.hub.Publish(ws.Event{Op: ws.OpNoticeDismiss, Data: ws.NoticeDismissData{
			NoticeID: id,
			Expired:  reason == cache.EvictExpired,
		}})
	})

	return s
}

// HandleMessage is the OpMessage subscriber. It notifies unless the sender
// is the local user or the peer of the open conversation, and reports
// whether a notice was produced.
func (s *notificationService) HandleMessage(msg models.Message) bool {
	if msg.SenderID == s.localUserID {
		return false
	}
	if s.openPeer != nil && msg.SenderID == s.openPeer() {
		return false
	}

	s.Notify(msg.SenderID, msg.DisplayName(), msg.Content)
	return true
}

// Notify creates and publishes one notice. Rapid messages from the same
// sender each get their own notice.
func (s *notificationService) Notify(senderID, senderNickname, preview string) models.Notice {
	if senderNickname == "" {
		senderNickname = senderID
	}

	now := time.Now()
	notice := models.Notice{
		ID:             uuid.NewString(),
		SenderID:       senderID,
		SenderNickname: s.titleCase(senderNickname),
		Preview:        truncate(preview, maxNoticePreview),
		CreatedAt:      now,
	}
	notice.ExpiresAt = s.notices.Set(notice.ID, notice)

	log.Printf("[notify] notice %s from %s", notice.ID, senderID)
	s.hub.Publish(ws.Event{Op: ws.OpNotice, Data: notice})
	return notice
}

// Act removes the notice and opens the conversation with its sender.
// An expired or unknown notice is a no-op.
func (s *notificationService) Act(ctx context.Context, noticeID string) error {
	notice, ok := s.notices.Get(noticeID)
	if !ok {
		return nil
	}
	s.notices.Delete(noticeID)

	if s.open == nil {
		return nil
	}
	return s.open(ctx, notice.SenderID)
}

// Dismiss removes the notice and reports whether it was still visible.
func (s *notificationService) Dismiss(noticeID string) bool {
	return s.notices.Delete(noticeID)
}

// Active returns the visible notices, oldest first.
func (s *notificationService) Active() []models.Notice {
	notices := s.notices.Values()
	sort.Slice(notices, func(i, j int) bool {
		return notices[i].CreatedAt.Before(notices[j].CreatedAt)
	})
	return notices
}

// Close drops every notice and stops the expiry sweep.
func (s *notificationService) Close() {
	s.notices.Clear()
	s.notices.Close()
}

func (s *notificationService) titleCase(name string) string {
	s.casMu.Lock()
	defer s.casMu.Unlock()
	return s.caser.String(strings.ToLower(name))
}

// truncate cuts s to max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
