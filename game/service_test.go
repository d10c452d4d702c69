package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"songpool-api-go/services/library"
	"songpool-api-go/services/pool"
	"songpool-api-go/upstream"
)

type fakeStore struct {
	mu       sync.Mutex
	rooms    map[string]RoomRecord
	songs    map[string][]pool.Song // "gameID/userID"
	progress map[string]map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:    make(map[string]RoomRecord),
		songs:    make(map[string][]pool.Song),
		progress: make(map[string]map[string]int),
	}
}

func (fs *fakeStore) SaveRoom(rec RoomRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.rooms[rec.ID] = rec
	return nil
}

func (fs *fakeStore) Rooms() ([]RoomRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var records []RoomRecord
	for _, rec := range fs.rooms {
		records = append(records, rec)
	}
	return records, nil
}

func (fs *fakeStore) SaveSongs(gameID, userID string, songs []pool.Song) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.songs[gameID+"/"+userID] = songs
	return nil
}

func (fs *fakeStore) Songs(gameID, userID string) ([]pool.Song, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.songs[gameID+"/"+userID], nil
}

func (fs *fakeStore) SaveProgress(gameID, userID string, pct int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.progress[gameID] == nil {
		fs.progress[gameID] = make(map[string]int)
	}
	fs.progress[gameID][userID] = pct
	return nil
}

func (fs *fakeStore) Progress(gameID string) (map[string]int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make(map[string]int)
	for id, pct := range fs.progress[gameID] {
		out[id] = pct
	}
	return out, nil
}

func (fs *fakeStore) DeleteGame(gameID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.rooms, gameID)
	delete(fs.progress, gameID)
	for key := range fs.songs {
		if len(key) > len(gameID) && key[:len(gameID)] == gameID {
			delete(fs.songs, key)
		}
	}
	return nil
}

// fakeFetcher returns canned songs per identity, emitting progress first.
type fakeFetcher struct {
	mu      sync.Mutex
	songs   map[string][]pool.Song
	errs    map[string]error
	release chan struct{} // when set, FetchLibrary blocks until closed
}

func (ff *fakeFetcher) FetchLibrary(ctx context.Context, user library.User, opts library.Options) ([]pool.Song, error) {
	if ff.release != nil {
		select {
		case <-ff.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if opts.OnProgress != nil {
		opts.OnProgress(25)
		opts.OnProgress(100)
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if err := ff.errs[user.Identity]; err != nil {
		return nil, err
	}
	return ff.songs[user.Identity], nil
}

type recordedEvent struct {
	roomID  string
	event   string
	payload interface{}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
	closed []string
}

func (fb *fakeBroadcaster) Broadcast(roomID, event string, payload interface{}) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.events = append(fb.events, recordedEvent{roomID, event, payload})
}

func (fb *fakeBroadcaster) CloseRoom(roomID string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.closed = append(fb.closed, roomID)
}

func (fb *fakeBroadcaster) count(event string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n := 0
	for _, e := range fb.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (fb *fakeBroadcaster) last(event string) (recordedEvent, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for i := len(fb.events) - 1; i >= 0; i-- {
		if fb.events[i].event == event {
			return fb.events[i], true
		}
	}
	return recordedEvent{}, false
}

func songFor(id, title, owner string) pool.Song {
	return pool.Song{
		ID:     id,
		Title:  title,
		Artist: "Artist",
		Owners: []pool.Owner{{Identity: owner, Source: pool.Source{Kind: pool.SourceLikedSongs}}},
	}
}

func waitForState(t *testing.T, svc *Service, roomID, identity string, want PlayerState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		view, err := svc.Room(roomID)
		if err == nil {
			for _, p := range view.Players {
				if p.Identity == identity && p.State == want {
					return
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Player %s never reached state %s", identity, want)
}

func TestCreateAndGetRoom(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeFetcher{}, &fakeBroadcaster{})

	view, err := svc.CreateRoom()
	if err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	if view.ID == "" {
		t.Fatal("Expected non-empty room id")
	}
	if len(view.Players) != 0 {
		t.Errorf("Expected empty room, got %d players", len(view.Players))
	}
	if view.PoolReady {
		t.Error("Expected pool not ready in a new room")
	}

	got, err := svc.Room(view.ID)
	if err != nil {
		t.Fatalf("Failed to get room: %v", err)
	}
	if got.ID != view.ID {
		t.Errorf("Expected room %s, got %s", view.ID, got.ID)
	}

	store.mu.Lock()
	_, persisted := store.rooms[view.ID]
	store.mu.Unlock()
	if !persisted {
		t.Error("Expected room to be persisted on create")
	}
}

func TestRoomNotFound(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeFetcher{}, &fakeBroadcaster{})

	if _, err := svc.Room("missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}
	if _, err := svc.JoinRoom("missing", "alice", "Alice"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound on join, got %v", err)
	}
	if err := svc.SubmitSource("missing", "alice", "tok", nil); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound on submit, got %v", err)
	}
	if _, err := svc.Pool("missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound on pool, got %v", err)
	}
}

func TestJoinRoom(t *testing.T) {
	hub := &fakeBroadcaster{}
	svc := NewService(newFakeStore(), &fakeFetcher{}, hub)
	view, _ := svc.CreateRoom()

	if _, err := svc.JoinRoom(view.ID, "alice", "Alice"); err != nil {
		t.Fatalf("Failed to join: %v", err)
	}
	got, err := svc.JoinRoom(view.ID, "bob", "Bob")
	if err != nil {
		t.Fatalf("Failed to join: %v", err)
	}
	if len(got.Players) != 2 {
		t.Fatalf("Expected 2 players, got %d", len(got.Players))
	}
	if got.Players[0].Identity != "alice" || got.Players[1].Identity != "bob" {
		t.Errorf("Expected join order preserved, got %+v", got.Players)
	}
	if got.Players[0].State != StateJoined {
		t.Errorf("Expected state joined, got %s", got.Players[0].State)
	}

	// Rejoining is idempotent
	again, err := svc.JoinRoom(view.ID, "alice", "Alice A")
	if err != nil {
		t.Fatalf("Failed to rejoin: %v", err)
	}
	if len(again.Players) != 2 {
		t.Errorf("Expected rejoin not to add a player, got %d", len(again.Players))
	}
	if again.Players[0].DisplayName != "Alice A" {
		t.Errorf("Expected rejoin to refresh display name, got %s", again.Players[0].DisplayName)
	}

	if got := hub.count(EventRoomJoined); got != 2 {
		t.Errorf("Expected 2 room:joined events, got %d", got)
	}
}

func TestSubmitSource(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeFetcher{}, &fakeBroadcaster{})
	view, _ := svc.CreateRoom()
	svc.JoinRoom(view.ID, "alice", "Alice")

	if err := svc.SubmitSource(view.ID, "ghost", "tok", nil); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("Expected ErrPlayerNotFound, got %v", err)
	}
	if err := svc.SubmitSource(view.ID, "alice", "tok", []string{"pl-1"}); err != nil {
		t.Fatalf("Failed to submit source: %v", err)
	}
}

func TestStartAggregationWithoutSources(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeFetcher{}, &fakeBroadcaster{})
	view, _ := svc.CreateRoom()
	svc.JoinRoom(view.ID, "alice", "Alice")

	if _, err := svc.StartAggregation(view.ID); !errors.Is(err, ErrNoSource) {
		t.Errorf("Expected ErrNoSource, got %v", err)
	}
}

func TestAggregationLifecycle(t *testing.T) {
	store := newFakeStore()
	hub := &fakeBroadcaster{}
	fetcher := &fakeFetcher{
		songs: map[string][]pool.Song{
			"alice": {songFor("t1", "Song One", "alice"), songFor("t2", "Song Two", "alice")},
			"bob":   {songFor("t2", "Song Two", "bob"), songFor("t3", "Song Three", "bob")},
		},
	}
	svc := NewService(store, fetcher, hub)

	view, _ := svc.CreateRoom()
	svc.JoinRoom(view.ID, "alice", "Alice")
	svc.JoinRoom(view.ID, "bob", "Bob")
	svc.SubmitSource(view.ID, "alice", "tok-a", nil)
	svc.SubmitSource(view.ID, "bob", "tok-b", nil)

	started, err := svc.StartAggregation(view.ID)
	if err != nil {
		t.Fatalf("Failed to start aggregation: %v", err)
	}
	if started != 2 {
		t.Errorf("Expected 2 aggregations started, got %d", started)
	}

	waitForState(t, svc, view.ID, "alice", StateReady)
	waitForState(t, svc, view.ID, "bob", StateReady)

	got, _ := svc.Room(view.ID)
	for _, p := range got.Players {
		if p.SongCount != 2 {
			t.Errorf("Expected song count 2 for %s, got %d", p.Identity, p.SongCount)
		}
	}

	songs, err := svc.Pool(view.ID)
	if err != nil {
		t.Fatalf("Failed to get pool: %v", err)
	}
	if len(songs) != 3 {
		t.Fatalf("Expected 3 distinct songs, got %d", len(songs))
	}
	byID := make(map[string]pool.Song)
	for _, song := range songs {
		byID[song.ID] = song
	}
	if len(byID["t2"].Owners) != 2 {
		t.Errorf("Expected shared song t2 to have 2 owners, got %+v", byID["t2"].Owners)
	}
	if len(byID["t1"].Owners) != 1 || len(byID["t3"].Owners) != 1 {
		t.Error("Expected exclusive songs to keep a single owner")
	}

	// Pool is cached: a second read returns the same order
	again, err := svc.Pool(view.ID)
	if err != nil {
		t.Fatalf("Failed to re-read pool: %v", err)
	}
	for i := range songs {
		if songs[i].ID != again[i].ID {
			t.Fatalf("Expected cached pool order to be stable at index %d", i)
		}
	}

	if hub.count(EventAggregationProgress) < 2 {
		t.Errorf("Expected progress events, got %d", hub.count(EventAggregationProgress))
	}
	if hub.count(EventAggregationDone) != 2 {
		t.Errorf("Expected 2 done events, got %d", hub.count(EventAggregationDone))
	}
	if hub.count(EventPoolReady) == 0 {
		t.Error("Expected a pool:ready event after both players settled")
	}

	progress, err := svc.Progress(view.ID)
	if err != nil {
		t.Fatalf("Failed to get progress: %v", err)
	}
	if progress["alice"] != 100 || progress["bob"] != 100 {
		t.Errorf("Expected both players at 100, got %v", progress)
	}
}

func TestAggregationAuthFailure(t *testing.T) {
	hub := &fakeBroadcaster{}
	fetcher := &fakeFetcher{
		errs: map[string]error{
			"alice": fmt.Errorf("liked songs: %w", &upstream.AuthError{Identity: "alice", Status: 401}),
		},
	}
	svc := NewService(newFakeStore(), fetcher, hub)

	view, _ := svc.CreateRoom()
	svc.JoinRoom(view.ID, "alice", "Alice")
	svc.SubmitSource(view.ID, "alice", "expired-tok", nil)
	svc.StartAggregation(view.ID)

	waitForState(t, svc, view.ID, "alice", StateFailed)

	got, _ := svc.Room(view.ID)
	if !got.Players[0].AuthExpired {
		t.Error("Expected auth_expired to be set on the player")
	}

	event, ok := hub.last(EventAggregationFailed)
	if !ok {
		t.Fatal("Expected an aggregation:failed event")
	}
	payload := event.payload.(map[string]interface{})
	if payload["auth_expired"] != true {
		t.Errorf("Expected auth_expired true in payload, got %v", payload)
	}

	// Resubmitting clears the failure and allows another run
	if err := svc.SubmitSource(view.ID, "alice", "fresh-tok", nil); err != nil {
		t.Fatalf("Failed to resubmit: %v", err)
	}
	got, _ = svc.Room(view.ID)
	if got.Players[0].State != StateJoined {
		t.Errorf("Expected resubmit to reset state to joined, got %s", got.Players[0].State)
	}
}

func TestPoolNotReadyWhileAggregating(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{
		songs:   map[string][]pool.Song{"alice": {songFor("t1", "Song One", "alice")}},
		release: release,
	}
	svc := NewService(newFakeStore(), fetcher, &fakeBroadcaster{})

	view, _ := svc.CreateRoom()
	svc.JoinRoom(view.ID, "alice", "Alice")
	svc.SubmitSource(view.ID, "alice", "tok", nil)
	svc.StartAggregation(view.ID)

	if _, err := svc.Pool(view.ID); !errors.Is(err, ErrPoolNotReady) {
		t.Errorf("Expected ErrPoolNotReady while aggregating, got %v", err)
	}

	close(release)
	waitForState(t, svc, view.ID, "alice", StateReady)

	songs, err := svc.Pool(view.ID)
	if err != nil {
		t.Fatalf("Failed to get pool after completion: %v", err)
	}
	if len(songs) != 1 {
		t.Errorf("Expected 1 song, got %d", len(songs))
	}
}

func TestPoolEmptyRoom(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeFetcher{}, &fakeBroadcaster{})
	view, _ := svc.CreateRoom()

	if _, err := svc.Pool(view.ID); !errors.Is(err, ErrPoolNotReady) {
		t.Errorf("Expected ErrPoolNotReady for empty room, got %v", err)
	}
}

func TestSongLookup(t *testing.T) {
	fetcher := &fakeFetcher{
		songs: map[string][]pool.Song{"alice": {songFor("t1", "Song One", "alice")}},
	}
	svc := NewService(newFakeStore(), fetcher, &fakeBroadcaster{})

	view, _ := svc.CreateRoom()
	svc.JoinRoom(view.ID, "alice", "Alice")
	svc.SubmitSource(view.ID, "alice", "tok", nil)
	svc.StartAggregation(view.ID)
	waitForState(t, svc, view.ID, "alice", StateReady)

	song, err := svc.Song(view.ID, "t1")
	if err != nil {
		t.Fatalf("Failed to look up song: %v", err)
	}
	if song.Title != "Song One" {
		t.Errorf("Expected Song One, got %s", song.Title)
	}

	if _, err := svc.Song(view.ID, "missing"); !errors.Is(err, ErrSongNotFound) {
		t.Errorf("Expected ErrSongNotFound for unknown song id, got %v", err)
	}
}

func TestRemoveRoom(t *testing.T) {
	store := newFakeStore()
	hub := &fakeBroadcaster{}
	svc := NewService(store, &fakeFetcher{}, hub)

	view, _ := svc.CreateRoom()
	if err := svc.RemoveRoom(view.ID); err != nil {
		t.Fatalf("Failed to remove room: %v", err)
	}
	if _, err := svc.Room(view.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound after removal, got %v", err)
	}

	store.mu.Lock()
	_, stillThere := store.rooms[view.ID]
	store.mu.Unlock()
	if stillThere {
		t.Error("Expected persisted room to be deleted")
	}

	hub.mu.Lock()
	closed := len(hub.closed) == 1 && hub.closed[0] == view.ID
	hub.mu.Unlock()
	if !closed {
		t.Error("Expected the room's websocket clients to be closed")
	}

	if err := svc.RemoveRoom(view.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound on double remove, got %v", err)
	}
}

func TestReapIdle(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeFetcher{}, &fakeBroadcaster{})

	idle, _ := svc.CreateRoom()
	active, _ := svc.CreateRoom()

	svc.mu.Lock()
	svc.rooms[idle.ID].lastActive = time.Now().Add(-7 * time.Hour)
	svc.mu.Unlock()

	reaped := svc.ReapIdle(6 * time.Hour)
	if len(reaped) != 1 {
		t.Fatalf("Expected 1 room reaped, got %d", len(reaped))
	}
	if reaped[0].ID != idle.ID {
		t.Errorf("Expected %s reaped, got %s", idle.ID, reaped[0].ID)
	}
	if reaped[0].Idle < 6*time.Hour {
		t.Errorf("Expected idle duration over TTL, got %v", reaped[0].Idle)
	}

	if _, err := svc.Room(active.ID); err != nil {
		t.Errorf("Expected active room to survive, got %v", err)
	}
}

func TestLoadRooms(t *testing.T) {
	store := newFakeStore()
	store.SaveRoom(RoomRecord{
		ID:         "room-1",
		CreatedAt:  time.Now().Add(-time.Hour),
		LastActive: time.Now().Add(-30 * time.Minute),
		Players: []PlayerRecord{
			{Identity: "alice", DisplayName: "Alice", State: "ready", SongCount: 10},
			{Identity: "bob", DisplayName: "Bob", State: "aggregating"},
		},
	})

	svc := NewService(store, &fakeFetcher{}, &fakeBroadcaster{})
	restored, err := svc.LoadRooms()
	if err != nil {
		t.Fatalf("Failed to load rooms: %v", err)
	}
	if restored != 1 {
		t.Fatalf("Expected 1 room restored, got %d", restored)
	}

	view, err := svc.Room("room-1")
	if err != nil {
		t.Fatalf("Failed to get restored room: %v", err)
	}
	if len(view.Players) != 2 {
		t.Fatalf("Expected 2 players, got %d", len(view.Players))
	}
	if view.Players[0].State != StateReady || view.Players[0].SongCount != 10 {
		t.Errorf("Expected alice restored as ready with 10 songs, got %+v", view.Players[0])
	}
	// A player caught mid-aggregation comes back as joined
	if view.Players[1].State != StateJoined {
		t.Errorf("Expected bob reset to joined, got %s", view.Players[1].State)
	}
}
