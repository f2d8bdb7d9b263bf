package services

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/pkg"
	"github.com/akinalp/forumchat/pkg/ratelimit"
)

// Composer holds the draft and sends it over the push channel.
//
// Send never renders the message itself: the echo pushed back by the server
// is the only copy that reaches the view, so the view shows exactly what
// the server accepted.
type Composer interface {
	SetDraft(text string)
	Draft() string
	Send() error
}

type composerService struct {
	sender   MessageSender
	limiter  *ratelimit.MessageRateLimiter
	session  models.Session
	openPeer func() string
	onSent   func()

	mu    sync.Mutex
	draft string
}

// NewComposer creates a Composer for session. openPeer reports the
// selected peer; onSent runs after every transmitted message (the roster
// refresh request). limiter may be nil.
func NewComposer(
	sender MessageSender,
	limiter *ratelimit.MessageRateLimiter,
	session models.Session,
	openPeer func() string,
	onSent func(),
) Composer {
	return &composerService{
		sender:   sender,
		limiter:  limiter,
		session:  session,
		openPeer: openPeer,
		onSent:   onSent,
	}
}

func (c *composerService) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

func (c *composerService) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Send validates and transmits the draft.
//
// Failure modes, each leaving the draft untouched so nothing typed is lost:
//   - no conversation selected: ErrNoPeerSelected, nothing sent
//   - blank draft: ErrEmptyContent
//   - longer than MaxMessageLength runes: ErrBadRequest
//   - throttled: ErrRateLimited
//   - channel not open: ErrChannelNotReady
//
// pkg.UserMessage turns each of them into the text shown to the user.
func (c *composerService) Send() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	peerID := ""
	if c.openPeer != nil {
		peerID = c.openPeer()
	}
	if peerID == "" {
		return pkg.ErrNoPeerSelected
	}

	if strings.TrimSpace(c.draft) == "" {
		return pkg.ErrEmptyContent
	}

	req := models.SendMessageRequest{
		SenderID:       c.session.UserID,
		SenderNickname: c.session.Nickname,
		ReceiverID:     peerID,
		Content:        c.draft,
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}

	if c.limiter != nil && !c.limiter.Allow(peerID) {
		wait := c.limiter.Cooldown(peerID)
		return fmt.Errorf("%w: wait %s", pkg.ErrRateLimited, wait.Round(100*time.Millisecond))
	}

	if err := c.sender.Send(req); err != nil {
		if !errors.Is(err, pkg.ErrChannelNotReady) {
			log.Printf("[composer] send to %s failed: %v", peerID, err)
		}
		return err
	}

	log.Printf("[composer] sent %d chars to %s", utf8.RuneCountInString(req.Content), peerID)
	c.draft = ""
	if c.onSent != nil {
		c.onSent()
	}
	return nil
}
