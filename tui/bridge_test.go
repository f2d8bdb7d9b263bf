package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/forumchat/ws"
)

func TestBridge_ForwardsViewOps(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Close()
	bridge := NewBridge(hub)
	defer bridge.Close()

	hub.Publish(ws.Event{Op: ws.OpMessage})
	hub.Publish(ws.Event{Op: ws.OpRosterUpdate})

	msg, ok := bridge.Listen()().(EventMsg)
	require.True(t, ok)
	assert.Equal(t, ws.OpRosterUpdate, msg.Event.Op, "raw messages are not rendered directly")
}

func TestBridge_PublisherNeverBlocks(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Close()
	bridge := NewBridge(hub)
	defer bridge.Close()

	for range bridgeBuffer + 10 {
		hub.Publish(ws.Event{Op: ws.OpNotice})
	}
	assert.Len(t, bridge.events, bridgeBuffer)
}

func TestBridge_CloseEndsListen(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Close()
	bridge := NewBridge(hub)

	bridge.Close()
	bridge.Close()

	assert.Nil(t, bridge.Listen()())
	assert.Equal(t, 0, hub.SubscriberCount(ws.OpRosterUpdate))
}
