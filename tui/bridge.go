package tui

import (
	"log"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/akinalp/forumchat/ws"
)

// bridgeBuffer is how many hub events may wait for the program loop.
const bridgeBuffer = 256

// viewOps are the hub ops the renderer consumes.
var viewOps = []string{
	ws.OpRosterUpdate,
	ws.OpConversationUpdate,
	ws.OpHistoryLoaded,
	ws.OpNotice,
	ws.OpNoticeDismiss,
	ws.OpChannelState,
	ws.OpChannelClosed,
}

// EventMsg carries one hub event into the bubbletea loop.
type EventMsg struct {
	Event ws.Event
}

// Bridge moves hub events into the bubbletea loop.
//
// Hub handlers run on the publisher's goroutine, and some publishers are
// commands started by Update itself. Handing events over through a
// buffered channel keeps those publishers from waiting on the loop.
type Bridge struct {
	events chan ws.Event
	done   chan struct{}
	unsubs []func()

	closeOnce sync.Once
}

// NewBridge subscribes to the renderer's ops on bus.
func NewBridge(bus ws.EventBus) *Bridge {
	b := &Bridge{
		events: make(chan ws.Event, bridgeBuffer),
		done:   make(chan struct{}),
	}
	for _, op := range viewOps {
		b.unsubs = append(b.unsubs, bus.Subscribe(op, b.forward))
	}
	return b
}

func (b *Bridge) forward(event ws.Event) {
	select {
	case <-b.done:
	case b.events <- event:
	default:
		log.Printf("[tui] event buffer full, dropping %s", event.Op)
	}
}

// Listen waits for the next event. Update re-issues it after every
// EventMsg.
func (b *Bridge) Listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case event := <-b.events:
			return EventMsg{Event: event}
		case <-b.done:
			return nil
		}
	}
}

// Close unsubscribes and ends Listen.
func (b *Bridge) Close() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
	b.closeOnce.Do(func() { close(b.done) })
}
