package game

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"songpool-api-go/logcolors"
	"songpool-api-go/services/pool"
	"songpool-api-go/utils"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	metaKey        = "meta"
	songsPrefix    = "songs:"
	progressPrefix = "progress:"
)

// Store persists room state so games survive a server restart. One game is
// one bucket; per-player song lists and progress live inside it.
type Store interface {
	SaveRoom(rec RoomRecord) error
	Rooms() ([]RoomRecord, error)
	SaveSongs(gameID, userID string, songs []pool.Song) error
	Songs(gameID, userID string) ([]pool.Song, error)
	SaveProgress(gameID, userID string, pct int) error
	Progress(gameID string) (map[string]int, error)
	DeleteGame(gameID string) error
}

// RoomRecord is the persisted view of a room. Credentials are deliberately
// absent, players resubmit their source after a restart.
type RoomRecord struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	LastActive time.Time      `json:"last_active"`
	Players    []PlayerRecord `json:"players"`
}

// PlayerRecord is the persisted slice of a player.
type PlayerRecord struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"`
	SongCount   int    `json:"song_count"`
}

// songsEnvelope wraps a stored song list; large lists are gzip+base64
// compressed the same way cache entries are.
type songsEnvelope struct {
	Compressed bool   `json:"compressed"`
	Data       string `json:"data"`
}

// BoltStore is the bbolt-backed Store implementation.
type BoltStore struct {
	db             *bolt.DB
	compressionMin int
}

// NewBoltStore opens (or creates) the game database at dbPath. Song lists
// larger than compressionMin bytes are compressed before storage.
func NewBoltStore(dbPath string, compressionMin int) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open game store: %w", err)
	}

	log.Infof("%s Game store opened at %s", logcolors.LogStore, dbPath)
	return &BoltStore{db: db, compressionMin: compressionMin}, nil
}

// Close closes the underlying database.
func (bs *BoltStore) Close() error {
	return bs.db.Close()
}

// SaveRoom writes the room metadata into the game's bucket, creating the
// bucket on first save.
func (bs *BoltStore) SaveRoom(rec RoomRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal room %s: %w", rec.ID, err)
	}
	return bs.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(rec.ID))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(metaKey), data)
	})
}

// Rooms loads every persisted room record, skipping buckets whose metadata
// cannot be decoded.
func (bs *BoltStore) Rooms() ([]RoomRecord, error) {
	var records []RoomRecord
	err := bs.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bolt.Bucket) error {
			data := bucket.Get([]byte(metaKey))
			if data == nil {
				return nil
			}
			var rec RoomRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				log.Warnf("%s Skipping corrupt room record %s: %v", logcolors.LogStore, string(name), err)
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SaveSongs stores a player's aggregated song list inside the game bucket.
func (bs *BoltStore) SaveSongs(gameID, userID string, songs []pool.Song) error {
	raw, err := json.Marshal(songs)
	if err != nil {
		return fmt.Errorf("failed to marshal songs for %s: %w", userID, err)
	}

	envelope := songsEnvelope{Data: string(raw)}
	if bs.compressionMin > 0 && len(raw) > bs.compressionMin {
		compressed, err := utils.CompressString(string(raw))
		if err != nil {
			log.Warnf("%s Failed to compress songs for %s, storing raw: %v", logcolors.LogStore, userID, err)
		} else {
			envelope.Compressed = true
			envelope.Data = compressed
		}
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal song envelope for %s: %w", userID, err)
	}

	return bs.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(gameID))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(songsPrefix+userID), data)
	})
}

// Songs loads a player's stored song list. A missing entry returns an empty
// slice, not an error.
func (bs *BoltStore) Songs(gameID, userID string) ([]pool.Song, error) {
	var data []byte
	err := bs.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(gameID))
		if bucket == nil {
			return nil
		}
		if value := bucket.Get([]byte(songsPrefix + userID)); value != nil {
			data = make([]byte, len(value))
			copy(data, value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var envelope songsEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal song envelope for %s: %w", userID, err)
	}

	raw := envelope.Data
	if envelope.Compressed {
		decompressed, err := utils.DecompressString(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress songs for %s: %w", userID, err)
		}
		raw = decompressed
	}

	var songs []pool.Song
	if err := json.Unmarshal([]byte(raw), &songs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal songs for %s: %w", userID, err)
	}
	return songs, nil
}

// SaveProgress stores a player's aggregation percentage.
func (bs *BoltStore) SaveProgress(gameID, userID string, pct int) error {
	return bs.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(gameID))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(progressPrefix+userID), []byte(fmt.Sprintf("%d", pct)))
	})
}

// Progress returns every player's stored aggregation percentage for a game.
func (bs *BoltStore) Progress(gameID string) (map[string]int, error) {
	progress := make(map[string]int)
	err := bs.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(gameID))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		prefix := []byte(progressPrefix)
		for key, value := cursor.Seek(prefix); key != nil && strings.HasPrefix(string(key), progressPrefix); key, value = cursor.Next() {
			var pct int
			if _, err := fmt.Sscanf(string(value), "%d", &pct); err != nil {
				continue
			}
			progress[strings.TrimPrefix(string(key), progressPrefix)] = pct
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// DeleteGame removes a game's bucket and everything inside it.
func (bs *BoltStore) DeleteGame(gameID string) error {
	return bs.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(gameID)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		return nil
	})
}
