package pool

import (
	"math/rand"
	"reflect"
	"testing"
)

func likedOwner(identity string) Owner {
	return Owner{Identity: identity, Source: Source{Kind: SourceLikedSongs}}
}

func playlistOwner(identity, id, name string) Owner {
	return Owner{Identity: identity, Source: Source{Kind: SourcePlaylist, ID: id, Name: name}}
}

func TestMergeDeduplicatesAcrossPlayers(t *testing.T) {
	alice := []Song{
		{ID: "t1", Title: "Shared Song", Artist: "Artist A", Owners: []Owner{likedOwner("alice")}},
		{ID: "t2", Title: "Only Alice", Artist: "Artist B", Owners: []Owner{likedOwner("alice")}},
	}
	bob := []Song{
		{ID: "t1", Title: "Shared Song (Remaster)", Artist: "Artist A", Owners: []Owner{likedOwner("bob")}},
		{ID: "t3", Title: "Only Bob", Artist: "Artist C", Owners: []Owner{likedOwner("bob")}},
	}

	merged := Merge(alice, bob)

	if len(merged) != 3 {
		t.Fatalf("Expected 3 songs after merge, got %d", len(merged))
	}

	shared := merged[0]
	if shared.ID != "t1" {
		t.Fatalf("Expected t1 first, got %s", shared.ID)
	}
	// First list's metadata wins.
	if shared.Title != "Shared Song" {
		t.Errorf("Expected first-seen title kept, got %q", shared.Title)
	}
	if len(shared.Owners) != 2 {
		t.Fatalf("Expected 2 owners on the shared song, got %d", len(shared.Owners))
	}
	if shared.Owners[0].Identity != "alice" || shared.Owners[1].Identity != "bob" {
		t.Errorf("Expected owners in encounter order [alice bob], got %+v", shared.Owners)
	}
}

func TestMergePreservesInsertionOrder(t *testing.T) {
	first := []Song{
		{ID: "a", Owners: []Owner{likedOwner("p1")}},
		{ID: "b", Owners: []Owner{likedOwner("p1")}},
	}
	second := []Song{
		{ID: "c", Owners: []Owner{likedOwner("p2")}},
		{ID: "a", Owners: []Owner{likedOwner("p2")}},
		{ID: "d", Owners: []Owner{likedOwner("p2")}},
	}

	merged := Merge(first, second)

	var order []string
	for _, s := range merged {
		order = append(order, s.ID)
	}
	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("Expected order %v, got %v", want, order)
	}
}

func TestMergeSkipsIdenticalOwners(t *testing.T) {
	// The same (identity, source) pair must not be recorded twice.
	one := []Song{{ID: "t1", Owners: []Owner{playlistOwner("alice", "pl1", "Mix")}}}
	two := []Song{{ID: "t1", Owners: []Owner{playlistOwner("alice", "pl1", "Mix")}}}

	merged := Merge(one, two)

	if len(merged) != 1 {
		t.Fatalf("Expected 1 song, got %d", len(merged))
	}
	if len(merged[0].Owners) != 1 {
		t.Errorf("Expected duplicate owner collapsed, got %d owners", len(merged[0].Owners))
	}
}

func TestMergeDistinctSourcesSamePlayer(t *testing.T) {
	// A track in two different playlists of the same player keeps both sources.
	one := []Song{{ID: "t1", Owners: []Owner{playlistOwner("alice", "pl1", "Mix")}}}
	two := []Song{{ID: "t1", Owners: []Owner{playlistOwner("alice", "pl2", "Gym")}}}

	merged := Merge(one, two)

	if len(merged[0].Owners) != 2 {
		t.Fatalf("Expected 2 owners for distinct sources, got %d", len(merged[0].Owners))
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	aliceSong := Song{ID: "t1", Owners: []Owner{likedOwner("alice")}}
	alice := []Song{aliceSong}
	bob := []Song{{ID: "t1", Owners: []Owner{likedOwner("bob")}}}

	Merge(alice, bob)

	if len(alice[0].Owners) != 1 {
		t.Errorf("Expected input owners untouched, got %d", len(alice[0].Owners))
	}
}

func TestMergeEmptyInputs(t *testing.T) {
	if got := Merge(); len(got) != 0 {
		t.Errorf("Expected empty pool from no inputs, got %d", len(got))
	}
	if got := Merge(nil, []Song{}); len(got) != 0 {
		t.Errorf("Expected empty pool from empty inputs, got %d", len(got))
	}
}

func TestCollectorLen(t *testing.T) {
	c := NewCollector()
	c.Add(Song{ID: "t1", Owners: []Owner{likedOwner("a")}})
	c.Add(Song{ID: "t2", Owners: []Owner{likedOwner("a")}})
	c.Add(Song{ID: "t1", Owners: []Owner{likedOwner("b")}})

	if c.Len() != 2 {
		t.Errorf("Expected 2 distinct songs, got %d", c.Len())
	}
}

func TestShuffleIsAPermutation(t *testing.T) {
	songs := make([]Song, 20)
	for i := range songs {
		songs[i] = Song{ID: string(rune('a' + i))}
	}

	shuffled := Shuffle(songs, rand.New(rand.NewSource(7)))

	if len(shuffled) != len(songs) {
		t.Fatalf("Expected same length, got %d", len(shuffled))
	}

	seen := make(map[string]bool, len(shuffled))
	for _, s := range shuffled {
		if seen[s.ID] {
			t.Fatalf("Duplicate song %s after shuffle", s.ID)
		}
		seen[s.ID] = true
	}
	for _, s := range songs {
		if !seen[s.ID] {
			t.Errorf("Song %s missing after shuffle", s.ID)
		}
	}
}

func TestShuffleDoesNotMutateInput(t *testing.T) {
	songs := []Song{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}}
	original := make([]Song, len(songs))
	copy(original, songs)

	// A handful of runs to make an in-place swap very likely to show.
	for seed := int64(0); seed < 10; seed++ {
		Shuffle(songs, rand.New(rand.NewSource(seed)))
	}

	if !reflect.DeepEqual(songs, original) {
		t.Error("Expected input slice unchanged after shuffles")
	}
}

func TestShuffleDeterministicWithSeed(t *testing.T) {
	songs := []Song{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}

	first := Shuffle(songs, rand.New(rand.NewSource(42)))
	second := Shuffle(songs, rand.New(rand.NewSource(42)))

	if !reflect.DeepEqual(first, second) {
		t.Error("Expected identical order for identical seeds")
	}
}

func TestShuffleIsRoughlyUniform(t *testing.T) {
	// 3 songs have 6 orderings; over many trials each should appear about
	// 1/6 of the time. A 25% tolerance keeps this stable across seeds.
	songs := []Song{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	rng := rand.New(rand.NewSource(1))

	const trials = 6000
	counts := make(map[string]int, 6)
	for i := 0; i < trials; i++ {
		shuffled := Shuffle(songs, rng)
		counts[shuffled[0].ID+shuffled[1].ID+shuffled[2].ID]++
	}

	if len(counts) != 6 {
		t.Fatalf("Expected all 6 orderings to appear, got %d", len(counts))
	}

	expected := trials / 6
	tolerance := expected / 4
	for perm, count := range counts {
		if count < expected-tolerance || count > expected+tolerance {
			t.Errorf("Ordering %s appeared %d times, expected %d±%d", perm, count, expected, tolerance)
		}
	}
}
