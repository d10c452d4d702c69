package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"songpool-api-go/logcolors"
	"songpool-api-go/services/library"
	"songpool-api-go/services/notifier"
	"songpool-api-go/services/pool"
	"songpool-api-go/stats"
	"songpool-api-go/upstream"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// PlayerState tracks where a player is in the aggregation lifecycle.
type PlayerState string

const (
	StateJoined      PlayerState = "joined"
	StateAggregating PlayerState = "aggregating"
	StateReady       PlayerState = "ready"
	StateFailed      PlayerState = "failed"
)

// Events broadcast to room subscribers.
const (
	EventRoomJoined          = "room:joined"
	EventAggregationProgress = "aggregation:progress"
	EventAggregationDone     = "aggregation:done"
	EventAggregationFailed   = "aggregation:failed"
	EventPoolReady           = "pool:ready"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrPlayerNotFound = errors.New("player not found in room")
	ErrSongNotFound   = errors.New("song not in pool")
	ErrNoSource       = errors.New("no players with a submitted source to aggregate")
	ErrAggregating    = errors.New("aggregation already running")
	ErrPoolNotReady   = errors.New("no aggregated libraries in room yet")
)

// Player is one participant in a room. The credential and playlist
// selection never leave process memory.
type Player struct {
	Identity    string      `json:"identity"`
	DisplayName string      `json:"display_name"`
	State       PlayerState `json:"state"`
	SongCount   int         `json:"song_count"`
	AuthExpired bool        `json:"auth_expired,omitempty"`

	token    string
	selected []string
}

// RoomView is the JSON shape handlers return for a room.
type RoomView struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Players    []Player  `json:"players"`
	PoolReady  bool      `json:"pool_ready"`
	PoolSize   int       `json:"pool_size,omitempty"`
}

// ReapedRoom reports one room removed by an idle sweep.
type ReapedRoom struct {
	ID   string
	Idle time.Duration
}

type room struct {
	id         string
	createdAt  time.Time
	lastActive time.Time
	players    map[string]*Player
	order      []string

	pool      []pool.Song
	poolReady bool

	ctx    context.Context
	cancel context.CancelFunc
}

// LibraryFetcher runs one player's library aggregation. *library.Aggregator
// is the production implementation.
type LibraryFetcher interface {
	FetchLibrary(ctx context.Context, user library.User, opts library.Options) ([]pool.Song, error)
}

// Broadcaster delivers room events to connected clients.
type Broadcaster interface {
	Broadcast(roomID, event string, payload interface{})
}

// RoomCloser is optionally implemented by a Broadcaster that holds
// per-room connections worth closing when the room goes away.
type RoomCloser interface {
	CloseRoom(roomID string)
}

// Service owns the room registry and drives per-player aggregation runs.
// All room state is guarded by a single mutex; aggregation itself runs in
// goroutines that report back through locked helpers.
type Service struct {
	mu      sync.RWMutex
	rooms   map[string]*room
	store   Store
	fetcher LibraryFetcher
	hub     Broadcaster
}

// NewService wires the room registry to its collaborators.
func NewService(store Store, fetcher LibraryFetcher, hub Broadcaster) *Service {
	return &Service{
		rooms:   make(map[string]*room),
		store:   store,
		fetcher: fetcher,
		hub:     hub,
	}
}

// LoadRooms restores persisted rooms after a restart. Players caught
// mid-aggregation are reset to joined so they can resubmit their source.
func (s *Service) LoadRooms() (int, error) {
	records, err := s.store.Rooms()
	if err != nil {
		return 0, fmt.Errorf("failed to load rooms: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		ctx, cancel := context.WithCancel(context.Background())
		r := &room{
			id:         rec.ID,
			createdAt:  rec.CreatedAt,
			lastActive: rec.LastActive,
			players:    make(map[string]*Player),
			ctx:        ctx,
			cancel:     cancel,
		}
		for _, p := range rec.Players {
			state := PlayerState(p.State)
			if state == StateAggregating {
				state = StateJoined
			}
			r.players[p.Identity] = &Player{
				Identity:    p.Identity,
				DisplayName: p.DisplayName,
				State:       state,
				SongCount:   p.SongCount,
			}
			r.order = append(r.order, p.Identity)
		}
		s.rooms[rec.ID] = r
	}

	if len(records) > 0 {
		log.Infof("%s Restored %d rooms from store", logcolors.LogRoom, len(records))
	}
	return len(records), nil
}

// CreateRoom registers a new empty room and persists it.
func (s *Service) CreateRoom() (*RoomView, error) {
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	r := &room{
		id:         uuid.NewString(),
		createdAt:  now,
		lastActive: now,
		players:    make(map[string]*Player),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.mu.Lock()
	s.rooms[r.id] = r
	view := r.view()
	rec := r.record()
	s.mu.Unlock()

	if err := s.store.SaveRoom(rec); err != nil {
		log.Errorf("%s Failed to persist room %s: %v", logcolors.LogRoom, r.id, err)
	}

	stats.Get().RecordRoomCreated()
	log.Infof("%s Room %s created", logcolors.LogRoom, r.id)
	return view, nil
}

// Room returns the current view of a room.
func (s *Service) Room(roomID string) (*RoomView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r.view(), nil
}

// Rooms returns how many rooms are currently live.
func (s *Service) Rooms() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// JoinRoom adds a player to a room. Rejoining with a known identity is a
// no-op that returns the current view.
func (s *Service) JoinRoom(roomID, identity, displayName string) (*RoomView, error) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrRoomNotFound
	}

	if existing, ok := r.players[identity]; ok {
		if displayName != "" {
			existing.DisplayName = displayName
		}
		view := r.view()
		s.mu.Unlock()
		return view, nil
	}

	r.players[identity] = &Player{
		Identity:    identity,
		DisplayName: displayName,
		State:       StateJoined,
	}
	r.order = append(r.order, identity)
	r.touch()
	view := r.view()
	rec := r.record()
	s.mu.Unlock()

	if err := s.store.SaveRoom(rec); err != nil {
		log.Errorf("%s Failed to persist room %s: %v", logcolors.LogRoom, roomID, err)
	}

	s.hub.Broadcast(roomID, EventRoomJoined, map[string]interface{}{
		"identity":     identity,
		"display_name": displayName,
		"players":      len(view.Players),
	})
	log.Infof("%s %s joined room %s (%d players)", logcolors.LogRoom, logcolors.Identity(identity), roomID, len(view.Players))
	return view, nil
}

// SubmitSource attaches a player's upstream credential and optional playlist
// selection. A nil or empty selection means the whole library.
func (s *Service) SubmitSource(roomID, identity, token string, selected []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	p, ok := r.players[identity]
	if !ok {
		return ErrPlayerNotFound
	}
	if p.State == StateAggregating {
		return ErrAggregating
	}

	p.token = token
	p.selected = selected
	p.AuthExpired = false
	if p.State == StateFailed {
		p.State = StateJoined
	}
	r.touch()
	return nil
}

// StartAggregation launches one aggregation goroutine per player that has
// submitted a source and is not already running or done. It returns how many
// runs were started.
func (s *Service) StartAggregation(roomID string) (int, error) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return 0, ErrRoomNotFound
	}

	var queued []*Player
	for _, identity := range r.order {
		p := r.players[identity]
		if p.token == "" || p.State == StateAggregating || p.State == StateReady {
			continue
		}
		p.State = StateAggregating
		p.AuthExpired = false
		queued = append(queued, p)
	}
	if len(queued) == 0 {
		s.mu.Unlock()
		return 0, ErrNoSource
	}
	r.touch()
	r.poolReady = false
	r.pool = nil
	ctx := r.ctx
	rec := r.record()
	s.mu.Unlock()

	if err := s.store.SaveRoom(rec); err != nil {
		log.Errorf("%s Failed to persist room %s: %v", logcolors.LogRoom, roomID, err)
	}

	for _, p := range queued {
		user := library.User{Identity: p.Identity, DisplayName: p.DisplayName, Token: p.token}
		go s.runAggregation(ctx, roomID, user, p.selected)
	}

	log.Infof("%s Started %d aggregations in room %s", logcolors.LogGame, len(queued), roomID)
	return len(queued), nil
}

// runAggregation fetches one player's library, persisting and broadcasting
// progress along the way.
func (s *Service) runAggregation(ctx context.Context, roomID string, user library.User, selected []string) {
	start := time.Now()
	stats.Get().RecordAggregationStarted()

	opts := library.Options{
		Selected: selected,
		OnProgress: func(pct int) {
			if err := s.store.SaveProgress(roomID, user.Identity, pct); err != nil {
				log.Debugf("%s Failed to persist progress for %s: %v", logcolors.LogGame, logcolors.Identity(user.Identity), err)
			}
			s.hub.Broadcast(roomID, EventAggregationProgress, map[string]interface{}{
				"identity": user.Identity,
				"pct":      pct,
			})
		},
	}

	songs, err := s.fetcher.FetchLibrary(ctx, user, opts)
	if err != nil {
		var authErr *upstream.AuthError
		authExpired := errors.As(err, &authErr)

		stats.Get().RecordAggregationFailed()
		notifier.PublishAggregationFailed(roomID, user.Identity, err)
		log.Errorf("%s Aggregation failed for %s in room %s: %v", logcolors.LogGame, logcolors.Identity(user.Identity), roomID, err)

		s.finishPlayer(roomID, user.Identity, StateFailed, 0, authExpired)
		s.hub.Broadcast(roomID, EventAggregationFailed, map[string]interface{}{
			"identity":     user.Identity,
			"auth_expired": authExpired,
			"error":        err.Error(),
		})
		return
	}

	if err := s.store.SaveSongs(roomID, user.Identity, songs); err != nil {
		log.Errorf("%s Failed to persist songs for %s: %v", logcolors.LogGame, logcolors.Identity(user.Identity), err)
	}

	stats.Get().RecordAggregationDone(len(songs), time.Since(start))
	log.Infof("%s Aggregated %d songs for %s in room %s (%v)", logcolors.LogGame, len(songs), logcolors.Identity(user.Identity), roomID, time.Since(start).Round(time.Millisecond))

	s.finishPlayer(roomID, user.Identity, StateReady, len(songs), false)
	s.hub.Broadcast(roomID, EventAggregationDone, map[string]interface{}{
		"identity":   user.Identity,
		"song_count": len(songs),
	})
}

// finishPlayer records a terminal aggregation state and, when the whole room
// has settled, announces the pool.
func (s *Service) finishPlayer(roomID, identity string, state PlayerState, songCount int, authExpired bool) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	p, ok := r.players[identity]
	if !ok {
		s.mu.Unlock()
		return
	}

	p.State = state
	p.SongCount = songCount
	p.AuthExpired = authExpired
	r.touch()
	settled := r.settled()
	rec := r.record()
	s.mu.Unlock()

	if err := s.store.SaveRoom(rec); err != nil {
		log.Errorf("%s Failed to persist room %s: %v", logcolors.LogRoom, roomID, err)
	}

	if settled {
		if songs, err := s.Pool(roomID); err == nil {
			s.hub.Broadcast(roomID, EventPoolReady, map[string]interface{}{"size": len(songs)})
		}
	}
}

// Progress reports every player's last known aggregation percentage.
func (s *Service) Progress(roomID string) (map[string]int, error) {
	s.mu.RLock()
	_, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s.store.Progress(roomID)
}

// Pool returns the room's merged, shuffled song pool. The pool is computed
// once after every player settles and cached until the next aggregation.
func (s *Service) Pool(roomID string) ([]pool.Song, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if r.poolReady {
		return append([]pool.Song(nil), r.pool...), nil
	}

	var ready []string
	for _, identity := range r.order {
		p := r.players[identity]
		if p.State == StateAggregating {
			return nil, ErrPoolNotReady
		}
		if p.State == StateReady {
			ready = append(ready, identity)
		}
	}
	if len(ready) == 0 {
		return nil, ErrPoolNotReady
	}

	lists := make([][]pool.Song, 0, len(ready))
	for _, identity := range ready {
		songs, err := s.store.Songs(roomID, identity)
		if err != nil {
			return nil, fmt.Errorf("failed to load songs for %s: %w", identity, err)
		}
		lists = append(lists, songs)
	}

	merged := pool.Merge(lists...)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	r.pool = pool.Shuffle(merged, rng)
	r.poolReady = true
	r.touch()

	stats.Get().RecordPoolMerged()
	log.Infof("%s Pool ready in room %s: %d songs from %d players", logcolors.LogPool, roomID, len(r.pool), len(ready))
	return append([]pool.Song(nil), r.pool...), nil
}

// Song looks up one pool entry by track id, for hint lookups.
func (s *Service) Song(roomID, songID string) (pool.Song, error) {
	songs, err := s.Pool(roomID)
	if err != nil {
		return pool.Song{}, err
	}
	for _, song := range songs {
		if song.ID == songID {
			return song, nil
		}
	}
	return pool.Song{}, fmt.Errorf("song %s: %w", songID, ErrSongNotFound)
}

// Touch marks a room as recently used so the reaper leaves it alone.
func (s *Service) Touch(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		r.touch()
	}
}

// RemoveRoom drops a room, cancels its in-flight aggregations, deletes its
// persisted state and closes its websocket connections.
func (s *Service) RemoveRoom(roomID string) error {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if ok {
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()

	if !ok {
		return ErrRoomNotFound
	}

	r.cancel()
	if closer, ok := s.hub.(RoomCloser); ok {
		closer.CloseRoom(roomID)
	}
	if err := s.store.DeleteGame(roomID); err != nil {
		return fmt.Errorf("failed to delete game data for %s: %w", roomID, err)
	}
	return nil
}

// ReapIdle removes every room idle for longer than ttl and returns what was
// reaped.
func (s *Service) ReapIdle(ttl time.Duration) []ReapedRoom {
	now := time.Now()

	s.mu.RLock()
	var idle []ReapedRoom
	for id, r := range s.rooms {
		if age := now.Sub(r.lastActive); age > ttl {
			idle = append(idle, ReapedRoom{ID: id, Idle: age})
		}
	}
	s.mu.RUnlock()

	var reaped []ReapedRoom
	for _, candidate := range idle {
		if err := s.RemoveRoom(candidate.ID); err != nil {
			log.Errorf("%s Failed to reap room %s: %v", logcolors.LogReaper, candidate.ID, err)
			continue
		}
		reaped = append(reaped, candidate)
	}
	return reaped
}

func (r *room) touch() {
	r.lastActive = time.Now()
}

// settled reports whether no player is mid-aggregation and at least one
// finished successfully.
func (r *room) settled() bool {
	ready := 0
	for _, p := range r.players {
		switch p.State {
		case StateAggregating:
			return false
		case StateReady:
			ready++
		}
	}
	return ready > 0
}

func (r *room) view() *RoomView {
	view := &RoomView{
		ID:         r.id,
		CreatedAt:  r.createdAt,
		LastActive: r.lastActive,
		Players:    make([]Player, 0, len(r.players)),
		PoolReady:  r.poolReady,
		PoolSize:   len(r.pool),
	}
	for _, identity := range r.order {
		view.Players = append(view.Players, *r.players[identity])
	}
	return view
}

func (r *room) record() RoomRecord {
	rec := RoomRecord{
		ID:         r.id,
		CreatedAt:  r.createdAt,
		LastActive: r.lastActive,
		Players:    make([]PlayerRecord, 0, len(r.players)),
	}
	for _, identity := range r.order {
		p := r.players[identity]
		rec.Players = append(rec.Players, PlayerRecord{
			Identity:    p.Identity,
			DisplayName: p.DisplayName,
			State:       string(p.State),
			SongCount:   p.SongCount,
		})
	}
	return rec
}
