// Package main: session wiring.
//
// The Session owns every chat component. It is built once here; each login
// starts it and each logout tears it down.
package main

import (
	"fmt"
	"log"

	"github.com/akinalp/forumchat/api"
	"github.com/akinalp/forumchat/config"
	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/repository"
	"github.com/akinalp/forumchat/services"
	"github.com/akinalp/forumchat/ws"
)

// initSession builds the Session and the factory of its push channel.
func initSession(
	cfg *config.Config,
	client *api.Client,
	previews repository.PreviewRepository,
	hub *ws.Hub,
) (*services.Session, error) {
	chatURL, err := cfg.Server.ChatURL()
	if err != nil {
		return nil, err
	}
	log.Printf("[main] chat endpoint %s", chatURL)

	backoff := ws.Backoff{
		Initial:     cfg.Reconnect.Initial,
		Max:         cfg.Reconnect.Max,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}

	newChannel := func(user models.Session, publisher ws.EventPublisher, sink ws.PreviewSink) services.PushChannel {
		return ws.NewChannel(ws.ChannelConfig{
			URL:         chatURL,
			LocalUserID: user.UserID,
			Header:      client.AuthHeader,
			Backoff:     backoff,
		}, publisher, sink, nil)
	}

	deps := services.SessionDeps{
		API:        client,
		Users:      client,
		History:    client,
		Previews:   previews,
		NewChannel: newChannel,
	}

	sessCfg := services.SessionConfig{
		HistoryLimit: cfg.Chat.HistoryLimit,
		Roster: services.RosterConfig{
			Interval: cfg.Chat.RosterInterval,
			Debounce: cfg.Chat.RosterDebounce,
		},
		NoticeTTL:      cfg.Chat.NoticeTTL,
		SendRateMax:    cfg.Chat.SendRateMax,
		SendRateWindow: cfg.Chat.SendRateWindow,
		SendCooldown:   cfg.Chat.SendCooldown,
		LoginAttempts:  cfg.Auth.LoginAttempts,
		LoginWindow:    cfg.Auth.LoginWindow,
	}

	if sessCfg.HistoryLimit < 1 {
		return nil, fmt.Errorf("history limit must be at least 1")
	}
	return services.NewSession(deps, sessCfg, hub), nil
}
