package services

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/ws"
)

// RosterService keeps the display-ordered user list current.
//
// Refresh sources:
//   - a ticker (every Interval, 2s by default)
//   - RequestRefresh, debounced, called after every sent or received message
//   - presence changes pushed over the channel (SetPresence, no network)
//
// Every new roster is published as ws.OpRosterUpdate.
type RosterService interface {
	Start(ctx context.Context)
	Stop()
	Refresh(ctx context.Context) (models.Roster, error)
	RequestRefresh()
	SetPresence(userID string, online bool) bool
	Current() models.Roster
}

// RosterConfig tunes a RosterService. Zero values fall back to defaults.
type RosterConfig struct {
	Interval         time.Duration // default 2s
	Debounce         time.Duration // default 150ms
	ProbeConcurrency int           // parallel back-compat history probes, default 4
}

type rosterService struct {
	users       RosterFetcher
	history     HistoryFetcher
	store       *ConversationStore
	hub         ws.EventPublisher
	localUserID string
	cfg         RosterConfig

	// refreshMu serializes whole refreshes: two overlapping polls would
	// publish out of order.
	refreshMu sync.Mutex

	// pubMu is held by SetPresence from reading current until it
	// publishes, so a refresh cannot publish in between.
	pubMu sync.Mutex

	mu      sync.Mutex
	current models.Roster
	probed  map[string]bool // users already probed through the history endpoint

	// collate.Collator keeps internal buffers and is not safe for
	// concurrent use.
	collMu   sync.Mutex
	collator *collate.Collator

	requests chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRosterService creates a RosterService for the session of localUserID.
func NewRosterService(
	users RosterFetcher,
	history HistoryFetcher,
	store *ConversationStore,
	hub ws.EventPublisher,
	localUserID string,
	cfg RosterConfig,
) RosterService {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 150 * time.Millisecond
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = 4
	}

	return &rosterService{
		users:       users,
		history:     history,
		store:       store,
		hub:         hub,
		localUserID: localUserID,
		cfg:         cfg,
		probed:      make(map[string]bool),
		collator:    collate.New(language.Und, collate.IgnoreCase),
		requests:    make(chan struct{}, 1),
	}
}

// Start runs one refresh right away, then polls until Stop or ctx ends.
func (s *rosterService) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels polling and any pending debounce, and waits for the loop.
func (s *rosterService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// RequestRefresh asks for a refresh soon. Requests arriving within the
// debounce window collapse into one fetch. It never blocks.
func (s *rosterService) RequestRefresh() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

func (s *rosterService) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			s.poll(ctx)

		case <-s.requests:
			if debounce == nil {
				debounce = time.NewTimer(s.cfg.Debounce)
				debounceC = debounce.C
			}

		case <-debounceC:
			debounce, debounceC = nil, nil
			s.poll(ctx)
		}
	}
}

func (s *rosterService) poll(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[roster] refresh failed: %v", err)
	}
}

// Refresh fetches the user list once, merges previews and publishes the
// ordered roster.
//
// A failed fetch publishes an Unavailable roster (neutral placeholder) and
// returns the error; polling continues on schedule. A cancelled ctx
// publishes nothing.
func (s *rosterService) Refresh(ctx context.Context) (models.Roster, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	users, err := s.users.Users(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return models.Roster{}, err
		}
		roster := models.Roster{Unavailable: true, FetchedAt: time.Now()}
		s.publish(roster)
		return roster, err
	}

	members := make([]models.User, 0, len(users))
	var missing []string
	for _, u := range users {
		// The server leaves the local user out; older servers did not.
		if u.ID == "" || u.ID == s.localUserID {
			continue
		}
		members = append(members, u)

		if p, ok := u.EmbeddedPreview(); ok {
			s.store.Apply(p)
			continue
		}
		// A preview seeded from the local cache may be older than the
		// server's, so it is still probed once.
		if _, ok := s.store.Get(u.ID); (!ok || s.store.CachedOnly(u.ID)) && !s.wasProbed(u.ID) {
			missing = append(missing, u.ID)
		}
	}

	s.probe(ctx, missing)

	roster := s.build(members)
	s.publish(roster)
	return roster, nil
}

// probe is the back-compat path for servers that do not embed previews:
// one single-message history fetch per user lacking a preview, at most once
// per user per session. Failed probes are retried on the next poll.
func (s *rosterService) probe(ctx context.Context, peerIDs []string) {
	if len(peerIDs) == 0 || s.history == nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ProbeConcurrency)

	for _, peerID := range peerIDs {
		g.Go(func() error {
			messages, err := s.history.History(gctx, peerID, 1, 0)
			if err != nil {
				log.Printf("[roster] preview probe for %s failed: %v", peerID, err)
				return nil
			}

			s.mu.Lock()
			s.probed[peerID] = true
			s.mu.Unlock()

			if len(messages) > 0 && messages[0].Involves(peerID) {
				s.store.Apply(messages[0].Preview(s.localUserID))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *rosterService) wasProbed(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probed[peerID]
}

// build joins users with their previews and orders them.
func (s *rosterService) build(users []models.User) models.Roster {
	previews := s.store.Snapshot()

	entries := make([]models.RosterEntry, 0, len(users))
	for _, u := range users {
		entry := models.RosterEntry{User: u}
		if p, ok := previews[u.ID]; ok {
			preview := p
			entry.Preview = &preview
		}
		entries = append(entries, entry)
	}

	return s.group(entries)
}

// group partitions entries into online and offline and orders each group:
// users with a preview first, most recent message first; then users
// without one, alphabetically by nickname under locale collation.
func (s *rosterService) group(entries []models.RosterEntry) models.Roster {
	s.collMu.Lock()
	sort.SliceStable(entries, func(i, j int) bool {
		return s.less(entries[i], entries[j])
	})
	s.collMu.Unlock()

	roster := models.Roster{
		Online:    []models.RosterEntry{},
		Offline:   []models.RosterEntry{},
		FetchedAt: time.Now(),
	}
	for _, e := range entries {
		if e.User.Online {
			roster.Online = append(roster.Online, e)
		} else {
			roster.Offline = append(roster.Offline, e)
		}
	}
	return roster
}

// less must be called with collMu held.
func (s *rosterService) less(a, b models.RosterEntry) bool {
	switch {
	case a.Preview != nil && b.Preview != nil:
		if !a.Preview.LastMessageTime.Equal(b.Preview.LastMessageTime) {
			return a.Preview.LastMessageTime.After(b.Preview.LastMessageTime)
		}
	case a.Preview != nil:
		return true
	case b.Preview != nil:
		return false
	}

	if c := s.collator.CompareString(a.User.Nickname, b.User.Nickname); c != 0 {
		return c < 0
	}
	return a.User.ID < b.User.ID
}

// SetPresence flips the online flag of userID in the current roster and
// republishes it. It returns false when the user is unknown or the flag is
// unchanged.
func (s *rosterService) SetPresence(userID string, online bool) bool {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	entries := s.current.Entries()
	changed := false
	for i := range entries {
		if entries[i].User.ID == userID && entries[i].User.Online != online {
			entries[i].User.Online = online
			changed = true
		}
	}
	s.mu.Unlock()

	if !changed {
		return false
	}

	s.publishLocked(s.group(entries))
	return true
}

// Current returns the last published roster.
func (s *rosterService) Current() models.Roster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *rosterService) publish(roster models.Roster) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.publishLocked(roster)
}

// publishLocked must be called with pubMu held.
func (s *rosterService) publishLocked(roster models.Roster) {
	s.mu.Lock()
	s.current = roster
	s.mu.Unlock()

	s.hub.Publish(ws.Event{Op: ws.OpRosterUpdate, Data: roster})
}
