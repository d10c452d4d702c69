package pool

import (
	"math/rand"
	"time"
)

// Collector accumulates songs while deduplicating by track identity. The
// first occurrence of a track wins its display metadata; later occurrences
// only contribute owners. Insertion order is preserved.
type Collector struct {
	songs []Song
	index map[string]int
}

func NewCollector() *Collector {
	return &Collector{index: make(map[string]int)}
}

// Add merges one song into the collection.
func (c *Collector) Add(song Song) {
	if at, ok := c.index[song.ID]; ok {
		existing := &c.songs[at]
		for _, owner := range song.Owners {
			if !hasOwner(existing.Owners, owner) {
				existing.Owners = append(existing.Owners, owner)
			}
		}
		return
	}

	stored := song
	stored.Owners = append([]Owner(nil), song.Owners...)
	c.index[song.ID] = len(c.songs)
	c.songs = append(c.songs, stored)
}

// Songs returns the collected pool in insertion order.
func (c *Collector) Songs() []Song {
	return c.songs
}

func (c *Collector) Len() int {
	return len(c.songs)
}

func hasOwner(owners []Owner, candidate Owner) bool {
	for _, o := range owners {
		if sameOwner(o, candidate) {
			return true
		}
	}
	return false
}

// Merge combines per-player song lists into a single deduplicated pool.
// Tracks appearing in several lists keep the metadata from the first list
// that mentioned them and gain the owners of every later mention. The
// inputs are never modified.
func Merge(lists ...[]Song) []Song {
	c := NewCollector()
	for _, list := range lists {
		for _, song := range list {
			c.Add(song)
		}
	}
	if c.songs == nil {
		return []Song{}
	}
	return c.songs
}

// Shuffle returns the songs in uniformly random order without touching the
// input slice. Pass a seeded rand for reproducible order, nil for a fresh
// time-seeded one.
func Shuffle(songs []Song, rng *rand.Rand) []Song {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	shuffled := make([]Song, len(songs))
	copy(shuffled, songs)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}
