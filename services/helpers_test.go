package services

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/ws"
)

const localID = "u-me"

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// conversation returns n messages between the local user and peer, oldest
// first, one minute apart.
func conversation(peer string, n int) []models.Message {
	msgs := make([]models.Message, n)
	for i := range msgs {
		sender, receiver := peer, localID
		if i%2 == 1 {
			sender, receiver = localID, peer
		}
		msgs[i] = models.Message{
			ID:         fmt.Sprintf("%s-%03d", peer, i),
			SenderID:   sender,
			ReceiverID: receiver,
			Content:    fmt.Sprintf("message %d", i),
			CreatedAt:  baseTime.Add(time.Duration(i) * time.Minute),
		}
	}
	return msgs
}

// fakeHistory serves GET /chat/history from per-peer conversations stored
// oldest first. Pages come back newest first, like the server's.
type fakeHistory struct {
	mu    sync.Mutex
	convs map[string][]models.Message
	errs  map[string]error
	calls []historyCall

	// gate, when set for a peer, blocks its fetches until closed.
	gates   map[string]chan struct{}
	started chan string
}

type historyCall struct {
	peer          string
	limit, offset int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		convs:   map[string][]models.Message{},
		errs:    map[string]error{},
		gates:   map[string]chan struct{}{},
		started: make(chan string, 64),
	}
}

func (f *fakeHistory) set(peer string, msgs []models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[peer] = msgs
}

// push appends a newer message to the server-side conversation.
func (f *fakeHistory) push(peer string, msg models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[peer] = append(f.convs[peer], msg)
}

func (f *fakeHistory) fail(peer string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[peer] = err
}

func (f *fakeHistory) block(peer string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[peer] = gate
	return gate
}

func (f *fakeHistory) callCount(peer string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.peer == peer {
			n++
		}
	}
	return n
}

func (f *fakeHistory) History(ctx context.Context, peer string, limit, offset int) ([]models.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, historyCall{peer: peer, limit: limit, offset: offset})
	gate := f.gates[peer]
	f.mu.Unlock()

	f.started <- peer
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[peer]; err != nil {
		return nil, err
	}

	all := f.convs[peer]
	end := len(all) - offset
	if end <= 0 {
		return []models.Message{}, nil
	}
	start := max(end-limit, 0)
	page := slices.Clone(all[start:end])
	slices.Reverse(page)
	return page, nil
}

// fakeUsers serves GET /users.
type fakeUsers struct {
	mu    sync.Mutex
	users []models.User
	err   error
	calls int
}

func (f *fakeUsers) set(users []models.User, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users, f.err = users, err
}

func (f *fakeUsers) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeUsers) Users(context.Context) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.users), nil
}

// eventLog records every event of a hub.
type eventLog struct {
	mu     sync.Mutex
	events []ws.Event
}

func recordEvents(hub *ws.Hub) *eventLog {
	l := &eventLog{}
	hub.Subscribe(ws.OpAll, func(e ws.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, e)
	})
	return l
}

func (l *eventLog) ops(op string) []ws.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ws.Event
	for _, e := range l.events {
		if e.Op == op {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) last(op string) (ws.Event, bool) {
	events := l.ops(op)
	if len(events) == 0 {
		return ws.Event{}, false
	}
	return events[len(events)-1], true
}

func waitStarted(t *testing.T, f *fakeHistory, peer string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-f.started:
			if p == peer {
				return
			}
		case <-deadline:
			t.Fatalf("history fetch for %s never started", peer)
		}
	}
}

func assertChronological(t *testing.T, msgs []models.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("message %d (%s) is older than message %d (%s)", i, msgs[i].CreatedAt, i-1, msgs[i-1].CreatedAt)
		}
	}
}
