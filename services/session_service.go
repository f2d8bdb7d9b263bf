package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/pkg"
	"github.com/akinalp/forumchat/pkg/ratelimit"
	"github.com/akinalp/forumchat/repository"
	"github.com/akinalp/forumchat/ws"
)

// PushChannel is the part of *ws.Channel the session drives.
type PushChannel interface {
	Open(ctx context.Context) error
	Close()
	Send(req models.SendMessageRequest) error
	State() models.ChannelState
}

// ChannelFactory builds the push channel of a session. The channel must
// publish on hub and freshen previews through sink.
type ChannelFactory func(user models.Session, hub ws.EventPublisher, sink ws.PreviewSink) PushChannel

// SessionDeps are the collaborators a Session is built from.
type SessionDeps struct {
	API        SessionAPI
	Users      RosterFetcher
	History    HistoryFetcher
	Previews   repository.PreviewRepository // nil disables the local cache
	NewChannel ChannelFactory
}

// SessionConfig tunes the components a Session creates.
type SessionConfig struct {
	HistoryLimit   int
	Roster         RosterConfig
	NoticeTTL      time.Duration
	SendRateMax    int
	SendRateWindow time.Duration
	SendCooldown   time.Duration
	LoginAttempts  int // per identifier per LoginWindow; 0 disables
	LoginWindow    time.Duration
}

// Session is the one session-scoped state object: the local user, the open
// conversation and every component whose lifetime is the session's.
//
// Nothing here is global. Logout tears everything down (timers, goroutines,
// the push connection, subscriptions) and the Session can be started again
// for the next login.
type Session struct {
	deps         SessionDeps
	cfg          SessionConfig
	hub          ws.EventBus
	loginLimiter *ratelimit.LoginRateLimiter

	mu        sync.Mutex
	started   bool
	user      models.Session
	cancel    context.CancelFunc
	store     *ConversationStore
	channel   PushChannel
	roster    RosterService
	view      *ConversationView
	notifier  NotificationDispatcher
	composer  Composer
	limiter   *ratelimit.MessageRateLimiter
	persister *PreviewPersister
	unsubs    []func()
}

// NewSession creates a Session that is not started yet.
func NewSession(deps SessionDeps, cfg SessionConfig, hub ws.EventBus) *Session {
	return &Session{
		deps:         deps,
		cfg:          cfg,
		hub:          hub,
		loginLimiter: ratelimit.NewLoginRateLimiter(cfg.LoginAttempts, cfg.LoginWindow),
	}
}

// Start authenticates and brings every component up.
//
// With login nil the existing session is checked (GET /session); otherwise
// the credentials are posted first. Then, in order: previews are seeded from
// the local cache, subscriptions are wired, the push channel is opened and
// roster polling starts.
func (s *Session) Start(ctx context.Context, login *models.LoginRequest) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return s.user, fmt.Errorf("%w: session already started", pkg.ErrAlreadyOpen)
	}

	var (
		user *models.Session
		err  error
	)
	if login != nil {
		if !s.loginLimiter.Allow(login.Identifier) {
			wait := s.loginLimiter.RetryAfter(login.Identifier)
			return models.Session{}, fmt.Errorf("%w: too many login attempts, try again in %s",
				pkg.ErrRateLimited, ratelimit.FormatRetry(wait))
		}
		user, err = s.deps.API.Login(ctx, *login)
		if err == nil {
			s.loginLimiter.Reset(login.Identifier)
		}
	} else {
		user, err = s.deps.API.Session(ctx)
	}
	if err != nil {
		return models.Session{}, err
	}
	if user.Nickname == "" {
		user.Nickname = user.UserID
	}

	// ─── 1. Components ───
	sessCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.user = *user
	s.store = NewConversationStore()
	s.view = NewConversationView(s.deps.History, s.store, s.hub, user.UserID, s.cfg.HistoryLimit)
	s.roster = NewRosterService(s.deps.Users, s.deps.History, s.store, s.hub, user.UserID, s.cfg.Roster)
	s.notifier = NewNotificationDispatcher(s.hub, user.UserID, s.cfg.NoticeTTL, s.view.PeerID, s.OpenConversation)
	s.limiter = ratelimit.NewMessageRateLimiter(s.cfg.SendRateMax, s.cfg.SendRateWindow, s.cfg.SendCooldown)

	// ─── 2. Local preview cache ───
	if s.deps.Previews != nil {
		s.seedPreviews(ctx)
		s.persister = NewPreviewPersister(s.deps.Previews, user.UserID)
		s.persister.Start(sessCtx)
		s.store.OnApply(s.persister.Enqueue)
	}

	// ─── 3. Subscriptions ───
	s.unsubs = append(s.unsubs,
		s.hub.Subscribe(ws.OpMessage, func(e ws.Event) {
			msg, ok := e.Data.(models.Message)
			if !ok {
				return
			}
			s.view.AppendLive(msg)
			s.notifier.HandleMessage(msg)
			s.roster.RequestRefresh()
		}),
		s.hub.Subscribe(ws.OpPresenceChanged, func(e ws.Event) {
			if p, ok := e.Data.(ws.PresenceData); ok {
				s.roster.SetPresence(p.UserID, p.Online())
			}
		}),
		s.hub.Subscribe(ws.OpRosterRefresh, func(ws.Event) {
			s.roster.RequestRefresh()
		}),
	)

	// ─── 4. Push channel ───
	s.channel = s.deps.NewChannel(*user, s.hub, s.store)
	s.composer = NewComposer(s.channel, s.limiter, *user, s.view.PeerID, s.roster.RequestRefresh)
	if err := s.channel.Open(sessCtx); err != nil {
		s.teardownLocked()
		return models.Session{}, fmt.Errorf("failed to open chat channel: %w", err)
	}

	// ─── 5. Roster polling ───
	s.roster.Start(sessCtx)

	s.started = true
	log.Printf("[session] started for %s (%s)", user.Nickname, user.UserID)
	return s.user, nil
}

// seedPreviews loads the cached previews of the user. A broken cache only
// costs a cold start.
func (s *Session) seedPreviews(ctx context.Context) {
	previews, err := s.deps.Previews.ListByOwner(ctx, s.user.UserID)
	if err != nil {
		log.Printf("[session] preview cache unavailable: %v", err)
		return
	}
	n := s.store.Seed(previews)
	log.Printf("[session] seeded %d cached previews", n)
}

// User returns the local user.
func (s *Session) User() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Started reports whether the session is live.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// OpenConversation selects peerID (roster click or notice action) and
// loads its newest page of history.
func (s *Session) OpenConversation(ctx context.Context, peerID string) error {
	view, roster, err := s.components()
	if err != nil {
		return err
	}
	if err := view.Open(ctx, peerID); err != nil {
		return err
	}
	roster.RequestRefresh()
	return nil
}

// CloseConversation deselects the open conversation.
func (s *Session) CloseConversation() {
	if view, _, err := s.components(); err == nil {
		view.Close()
	}
}

// LoadOlder loads the next older page of the open conversation.
func (s *Session) LoadOlder(ctx context.Context) error {
	view, _, err := s.components()
	if err != nil {
		return err
	}
	return view.ScrolledToTop(ctx)
}

func (s *Session) components() (*ConversationView, RosterService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, nil, pkg.ErrSessionClosed
	}
	return s.view, s.roster, nil
}

// Composer returns the composer, or nil before Start.
func (s *Session) Composer() Composer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composer
}

// Notifier returns the notification dispatcher, or nil before Start.
func (s *Session) Notifier() NotificationDispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier
}

// Roster returns the roster service, or nil before Start.
func (s *Session) Roster() RosterService {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster
}

// View returns the conversation view, or nil before Start.
func (s *Session) View() *ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// ChannelState returns the push channel state.
func (s *Session) ChannelState() models.ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil {
		return models.ChannelDisconnected
	}
	return s.channel.State()
}

// Logout stops every component, closes the push channel deliberately (no
// reconnect) and ends the server session. Local teardown happens even when
// the server call fails.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return pkg.ErrSessionClosed
	}
	s.teardownLocked()
	s.mu.Unlock()

	if err := s.deps.API.Logout(ctx); err != nil && !errors.Is(err, pkg.ErrUnauthorized) {
		return fmt.Errorf("server logout failed: %w", err)
	}
	log.Println("[session] logged out")
	return nil
}

// Shutdown stops every component without ending the server session, so the
// cookie stays valid for the next run. The Session cannot be started again
// afterwards.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loginLimiter.Close()
	if s.started {
		s.teardownLocked()
		log.Println("[session] shut down")
	}
}

// teardownLocked must be called with mu held.
func (s *Session) teardownLocked() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	if s.roster != nil {
		s.roster.Stop()
	}
	if s.channel != nil {
		s.channel.Close()
	}
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.view != nil {
		s.view.Close()
	}
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.persister != nil {
		s.persister.Stop()
		s.persister = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	s.started = false
	s.channel = nil
	s.composer = nil
}
