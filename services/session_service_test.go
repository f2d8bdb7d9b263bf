package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/pkg"
	"github.com/akinalp/forumchat/ws"
)

type fakeSessionAPI struct {
	mu       sync.Mutex
	user     *models.Session
	password string
	logouts  int
	logins   int
}

func (f *fakeSessionAPI) Session(context.Context) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return nil, pkg.ErrUnauthorized
	}
	u := *f.user
	return &u, nil
}

func (f *fakeSessionAPI) Login(_ context.Context, req models.LoginRequest) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if req.Password != f.password {
		return nil, pkg.ErrUnauthorized
	}
	f.user = &models.Session{UserID: localID, Nickname: req.Identifier}
	u := *f.user
	return &u, nil
}

func (f *fakeSessionAPI) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.user = nil
	return nil
}

type fakeChannel struct {
	mu      sync.Mutex
	openErr error
	opened  int
	closed  int
	sent    []models.SendMessageRequest
	state   models.ChannelState
}

func (f *fakeChannel) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened++
	f.state = models.ChannelOpen
	return nil
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.state = models.ChannelClosed
}

func (f *fakeChannel) Send(req models.SendMessageRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != models.ChannelOpen {
		return pkg.ErrChannelNotReady
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeChannel) State() models.ChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type sessionFixture struct {
	api      *fakeSessionAPI
	users    *fakeUsers
	history  *fakeHistory
	previews *memPreviews
	hub      *ws.Hub
	events   *eventLog
	channels []*fakeChannel
	openErr  error
	session  *Session
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		api:      &fakeSessionAPI{password: "secret"},
		users:    &fakeUsers{},
		history:  newFakeHistory(),
		previews: newMemPreviews(),
		hub:      ws.NewHub(),
	}
	f.users.set([]models.User{}, nil)
	f.events = recordEvents(f.hub)

	deps := SessionDeps{
		API:      f.api,
		Users:    f.users,
		History:  f.history,
		Previews: f.previews,
		NewChannel: func(models.Session, ws.EventPublisher, ws.PreviewSink) PushChannel {
			ch := &fakeChannel{openErr: f.openErr, state: models.ChannelDisconnected}
			f.channels = append(f.channels, ch)
			return ch
		},
	}
	cfg := SessionConfig{
		HistoryLimit:  10,
		Roster:        RosterConfig{Interval: time.Hour, Debounce: 10 * time.Millisecond},
		NoticeTTL:     time.Minute,
		LoginAttempts: 2,
		LoginWindow:   time.Minute,
	}
	f.session = NewSession(deps, cfg, f.hub)
	t.Cleanup(func() {
		f.session.Shutdown()
		f.hub.Close()
	})
	return f
}

func (f *sessionFixture) login(t *testing.T) models.Session {
	t.Helper()
	user, err := f.session.Start(context.Background(), &models.LoginRequest{Identifier: "me", Password: "secret"})
	require.NoError(t, err)
	return user
}

func TestSession_StartRequiresValidSession(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.session.Start(context.Background(), nil)
	require.ErrorIs(t, err, pkg.ErrUnauthorized)
	assert.False(t, f.session.Started())
	assert.Empty(t, f.channels)
}

func TestSession_LoginStartsEverything(t *testing.T) {
	f := newSessionFixture(t)

	user := f.login(t)
	assert.Equal(t, localID, user.UserID)
	assert.Equal(t, "me", user.Nickname)
	assert.True(t, f.session.Started())
	assert.Equal(t, user, f.session.User())

	require.Len(t, f.channels, 1)
	assert.Equal(t, 1, f.channels[0].opened)
	assert.Equal(t, models.ChannelOpen, f.session.ChannelState())
	assert.NotNil(t, f.session.Composer())
	assert.NotNil(t, f.session.Notifier())

	require.Eventually(t, func() bool { return f.users.callCount() >= 1 }, time.Second, 5*time.Millisecond)

	_, err := f.session.Start(context.Background(), nil)
	assert.ErrorIs(t, err, pkg.ErrAlreadyOpen)
}

func TestSession_ExistingSessionIsResumed(t *testing.T) {
	f := newSessionFixture(t)
	f.api.user = &models.Session{UserID: localID}

	user, err := f.session.Start(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, localID, user.Nickname, "nickname falls back to the id")
	assert.Equal(t, 0, f.api.logins)
}

func TestSession_LoginThrottle(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	bad := &models.LoginRequest{Identifier: "Me", Password: "wrong"}

	for range 2 {
		_, err := f.session.Start(ctx, bad)
		require.ErrorIs(t, err, pkg.ErrUnauthorized)
	}

	_, err := f.session.Start(ctx, &models.LoginRequest{Identifier: " me ", Password: "secret"})
	require.ErrorIs(t, err, pkg.ErrRateLimited)
	assert.Equal(t, 2, f.api.logins, "a throttled attempt never reaches the server")
	assert.Contains(t, pkg.UserMessage(err), "try again")

	// Another identifier is not affected.
	_, err = f.session.Start(ctx, &models.LoginRequest{Identifier: "other", Password: "secret"})
	require.NoError(t, err)
}

func TestSession_ChannelOpenFailureTearsDown(t *testing.T) {
	f := newSessionFixture(t)
	f.openErr = pkg.ErrTransport

	_, err := f.session.Start(context.Background(), &models.LoginRequest{Identifier: "me", Password: "secret"})
	require.ErrorIs(t, err, pkg.ErrTransport)
	assert.False(t, f.session.Started())
	assert.Equal(t, 1, f.channels[0].closed)

	assert.ErrorIs(t, f.session.OpenConversation(context.Background(), "u-al"), pkg.ErrSessionClosed)
}

func TestSession_LiveMessagesReachTheView(t *testing.T) {
	f := newSessionFixture(t)
	f.history.set("u-al", conversation("u-al", 3))
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.session.OpenConversation(ctx, "u-al"))
	assert.Len(t, f.session.View().Snapshot().Messages, 3)

	f.hub.Publish(ws.Event{Op: ws.OpMessage, Data: models.Message{
		ID: "live", SenderID: "u-al", ReceiverID: localID, Content: "still there?",
		CreatedAt: baseTime.Add(time.Hour),
	}})
	snap := f.session.View().Snapshot()
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, "live", snap.Messages[3].ID)
	assert.Empty(t, f.events.ops(ws.OpNotice), "the open conversation never notifies")

	f.hub.Publish(ws.Event{Op: ws.OpMessage, Data: models.Message{
		ID: "other", SenderID: "u-bo", SenderNickname: "bo", ReceiverID: localID, Content: "psst",
		CreatedAt: baseTime.Add(time.Hour),
	}})
	assert.Len(t, f.session.View().Snapshot().Messages, 4)
	assert.Len(t, f.events.ops(ws.OpNotice), 1)
}

func TestSession_ComposerSendsToOpenPeer(t *testing.T) {
	f := newSessionFixture(t)
	f.login(t)
	ctx := context.Background()

	composer := f.session.Composer()
	composer.SetDraft("hi")
	require.ErrorIs(t, composer.Send(), pkg.ErrNoPeerSelected)

	require.NoError(t, f.session.OpenConversation(ctx, "u-al"))
	require.NoError(t, composer.Send())

	require.Len(t, f.channels[0].sent, 1)
	assert.Equal(t, "u-al", f.channels[0].sent[0].ReceiverID)
	assert.Equal(t, "me", f.channels[0].sent[0].SenderNickname)
}

func TestSession_PresenceUpdatesRoster(t *testing.T) {
	f := newSessionFixture(t)
	f.users.set([]models.User{{ID: "u-al", Nickname: "al", Online: false}}, nil)
	f.login(t)

	require.Eventually(t, func() bool {
		return f.session.Roster().Current().Len() == 1
	}, time.Second, 5*time.Millisecond)

	f.hub.Publish(ws.Event{Op: ws.OpPresenceChanged, Data: ws.PresenceData{UserID: "u-al", Status: "online"}})
	assert.Len(t, f.session.Roster().Current().Online, 1)
}

func TestSession_SeedsCachedPreviews(t *testing.T) {
	f := newSessionFixture(t)
	_, err := f.previews.Upsert(context.Background(), localID, preview("u-al", "cached", baseTime))
	require.NoError(t, err)
	f.users.set([]models.User{{ID: "u-al", Nickname: "al", Online: true}}, nil)

	f.login(t)

	require.Eventually(t, func() bool {
		entries := f.session.Roster().Current().Entries()
		return len(entries) == 1 && entries[0].Preview != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "cached", f.session.Roster().Current().Online[0].Preview.LastMessageContent)
	assert.Equal(t, 0, f.history.callCount("u-al"), "a cached preview needs no probe")
}

func TestSession_BrokenCacheIsAColdStart(t *testing.T) {
	f := newSessionFixture(t)
	f.previews.listErr = errors.New("disk gone")

	f.login(t)
	assert.True(t, f.session.Started())
}

func TestSession_OpenedConversationIsPersisted(t *testing.T) {
	f := newSessionFixture(t)
	all := conversation("u-al", 3)
	f.history.set("u-al", all)
	f.login(t)

	require.NoError(t, f.session.OpenConversation(context.Background(), "u-al"))

	require.Eventually(t, func() bool {
		p, ok := f.previews.get(localID, "u-al")
		return ok && p.LastMessageContent == all[2].Content
	}, time.Second, 5*time.Millisecond)
}

func TestSession_LogoutTearsDown(t *testing.T) {
	f := newSessionFixture(t)
	f.login(t)
	ctx := context.Background()
	subscribers := f.hub.SubscriberCount(ws.OpMessage)

	require.NoError(t, f.session.Logout(ctx))

	assert.False(t, f.session.Started())
	assert.Equal(t, 1, f.api.logouts)
	assert.Equal(t, 1, f.channels[0].closed)
	assert.Equal(t, models.ChannelDisconnected, f.session.ChannelState())
	assert.Nil(t, f.session.Composer())
	assert.Equal(t, subscribers-1, f.hub.SubscriberCount(ws.OpMessage))

	assert.ErrorIs(t, f.session.OpenConversation(ctx, "u-al"), pkg.ErrSessionClosed)
	assert.ErrorIs(t, f.session.LoadOlder(ctx), pkg.ErrSessionClosed)
	assert.ErrorIs(t, f.session.Logout(ctx), pkg.ErrSessionClosed)

	// The next login gets a fresh channel.
	f.login(t)
	require.Len(t, f.channels, 2)
	assert.Equal(t, 1, f.channels[1].opened)
}

func TestSession_ShutdownKeepsServerSession(t *testing.T) {
	f := newSessionFixture(t)
	f.login(t)

	f.session.Shutdown()

	assert.False(t, f.session.Started())
	assert.Equal(t, 0, f.api.logouts)
	assert.Equal(t, 1, f.channels[0].closed)
}
