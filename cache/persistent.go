package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"songpool-api-go/utils"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const bucketName = "cache"

// PersistentCache wraps BoltDB with an in-memory cache for fast access.
// Every entry carries its own expiry; reads never return stale data and a
// background sweeper reclaims space from entries nobody asks for again.
type PersistentCache struct {
	db                 *bolt.DB
	memCache           sync.Map
	dbPath             string
	backupPath         string
	compressionEnabled bool
	compressionMin     int // smallest value size worth compressing
}

// Entry represents a cached value with its expiry
type Entry struct {
	Value      string `json:"value"`
	Compressed bool   `json:"compressed,omitempty"`
	ExpiresAt  int64  `json:"expiresAt,omitempty"` // unix nanos, zero means no expiry
}

func (e Entry) expired(now time.Time) bool {
	return e.ExpiresAt > 0 && now.UnixNano() > e.ExpiresAt
}

// NewPersistentCache creates a new persistent cache
func NewPersistentCache(dbPath, backupPath string, compressionEnabled bool, compressionMin int) (*PersistentCache, error) {
	dir := filepath.Dir(dbPath)

	if info, err := os.Stat(dir); err == nil {
		log.Infof("[Cache:Init] Directory %s exists (IsDir: %v)", dir, info.IsDir())
	} else {
		log.Infof("[Cache:Init] Directory %s does not exist, creating...", dir)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %v", err)
	}

	if err := os.MkdirAll(backupPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %v", err)
	}
	log.Infof("[Cache:Init] Backup directory set to: %s", backupPath)

	if info, err := os.Stat(dbPath); err == nil {
		log.Infof("[Cache:Init] Found existing database file at: %s (size: %d bytes)", dbPath, info.Size())
	} else {
		log.Infof("[Cache:Init] Creating new database file at: %s", dbPath)
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %v", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %v", err)
	}

	pc := &PersistentCache{
		db:                 db,
		dbPath:             dbPath,
		backupPath:         backupPath,
		compressionEnabled: compressionEnabled,
		compressionMin:     compressionMin,
	}

	if err := pc.loadToMemory(); err != nil {
		log.Warnf("[Cache] Failed to preload cache to memory: %v", err)
	}

	log.Infof("[Cache] Persistent cache initialized at %s (compression: %v)", dbPath, compressionEnabled)
	return pc, nil
}

// loadToMemory loads live cache entries from disk to memory. Entries that
// expired while the server was down are dropped instead of loaded.
func (pc *PersistentCache) loadToMemory() error {
	now := time.Now()
	count := 0
	var deadKeys [][]byte

	err := pc.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				log.Warnf("[Cache] Failed to unmarshal cache entry for key %s: %v", string(k), err)
				return nil // continue to next entry
			}
			if entry.expired(now) {
				deadKeys = append(deadKeys, append([]byte(nil), k...))
				return nil
			}
			pc.memCache.Store(string(k), entry)
			count++
			return nil
		})
	})
	if err != nil {
		return err
	}

	if len(deadKeys) > 0 {
		err = pc.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(bucketName))
			if b == nil {
				return nil
			}
			for _, k := range deadKeys {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Warnf("[Cache] Failed to drop %d expired entries at startup: %v", len(deadKeys), err)
		}
	}

	log.Infof("[Cache] Loaded %d entries from disk to memory (%d expired)", count, len(deadKeys))
	return nil
}

// Get retrieves a value from cache (checks memory first, then disk).
// Expired entries are evicted on the spot and reported as a miss.
func (pc *PersistentCache) Get(key string) (string, bool) {
	if cached, ok := pc.memCache.Load(key); ok {
		entry := cached.(Entry)
		if entry.expired(time.Now()) {
			pc.Delete(key) //nolint:errcheck
			return "", false
		}
		return pc.unwrap(key, entry)
	}

	// Try disk cache
	var entry Entry
	err := pc.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("key not found")
		}

		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return "", false
	}

	if entry.expired(time.Now()) {
		pc.Delete(key) //nolint:errcheck
		return "", false
	}

	pc.memCache.Store(key, entry)
	return pc.unwrap(key, entry)
}

// unwrap decompresses the stored value when needed.
func (pc *PersistentCache) unwrap(key string, entry Entry) (string, bool) {
	if !entry.Compressed {
		return entry.Value, true
	}
	decompressed, err := utils.DecompressString(entry.Value)
	if err != nil {
		log.Errorf("[Cache] Error decompressing cache value for key %s: %v", key, err)
		return "", false
	}
	return decompressed, true
}

// Set stores a value in cache (both memory and disk). A non-positive ttl
// means the entry never expires. Values above the compression floor are
// gzip-compressed before hitting disk.
func (pc *PersistentCache) Set(key, value string, ttl time.Duration) error {
	entry := Entry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl).UnixNano()
	}

	if pc.compressionEnabled && len(value) >= pc.compressionMin {
		compressed, err := utils.CompressString(value)
		if err != nil {
			log.Errorf("[Cache] Error compressing cache value for key %s: %v", key, err)
			return err
		}
		entry.Value = compressed
		entry.Compressed = true
	}

	pc.memCache.Store(key, entry)

	return pc.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return b.Put([]byte(key), data)
	})
}

// Delete removes a key from cache
func (pc *PersistentCache) Delete(key string) error {
	pc.memCache.Delete(key)

	return pc.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(key))
	})
}

// DeletePrefix removes every key that starts with prefix and returns how
// many entries were dropped.
func (pc *PersistentCache) DeletePrefix(prefix string) (int, error) {
	removed := 0
	pc.memCache.Range(func(k, _ interface{}) bool {
		if key := k.(string); len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			pc.memCache.Delete(k)
			removed++
		}
		return true
	})

	err := pc.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		c := b.Cursor()
		p := []byte(prefix)
		var keys [][]byte
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return removed, err
	}

	if removed > 0 {
		log.Debugf("[Cache] Invalidated %d entries with prefix %s", removed, prefix)
	}
	return removed, nil
}

// Clear removes all entries from cache
func (pc *PersistentCache) Clear() error {
	pc.memCache.Range(func(key, value interface{}) bool {
		pc.memCache.Delete(key)
		return true
	})

	return pc.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
}

// Sweep evicts every expired entry and returns how many were removed.
func (pc *PersistentCache) Sweep() int {
	now := time.Now()
	removed := 0

	pc.memCache.Range(func(k, v interface{}) bool {
		if v.(Entry).expired(now) {
			if err := pc.Delete(k.(string)); err != nil {
				log.Warnf("[Cache:Sweep] Failed to evict %s: %v", k.(string), err)
			} else {
				removed++
			}
		}
		return true
	})

	return removed
}

// StartSweeper runs Sweep every interval in the background. The returned
// function stops the sweeper.
func (pc *PersistentCache) StartSweeper(interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := pc.Sweep(); removed > 0 {
					log.Infof("[Cache:Sweep] Evicted %d expired entries", removed)
				}
			case <-stop:
				return
			}
		}
	}()
	log.Infof("[Cache:Sweep] Sweeper started (interval: %v)", interval)
	return func() { close(stop) }
}

// Range iterates over all in-memory cache entries
func (pc *PersistentCache) Range(fn func(key string, entry Entry) bool) {
	pc.memCache.Range(func(k, v interface{}) bool {
		return fn(k.(string), v.(Entry))
	})
}

// Stats returns cache statistics
func (pc *PersistentCache) Stats() (numKeys int, sizeInKB int) {
	pc.memCache.Range(func(k, v interface{}) bool {
		entry := v.(Entry)
		numKeys++
		sizeInKB += len(k.(string)) + len(entry.Value)
		return true
	})
	sizeInKB = sizeInKB / 1024
	return
}

// Backup creates a backup of the cache database file
// Returns the backup file path
func (pc *PersistentCache) Backup() (string, error) {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	backupFileName := fmt.Sprintf("cache_backup_%s.db", timestamp)
	backupFilePath := filepath.Join(pc.backupPath, backupFileName)

	log.Infof("[Cache:Backup] Creating backup at: %s", backupFilePath)

	// Close the database temporarily to ensure all data is flushed
	if err := pc.db.Close(); err != nil {
		return "", fmt.Errorf("failed to close database for backup: %v", err)
	}

	if err := copyFile(pc.dbPath, backupFilePath); err != nil {
		// Try to reopen the database even if backup failed
		pc.reopenDatabase()
		return "", fmt.Errorf("failed to copy database file: %v", err)
	}

	if err := pc.reopenDatabase(); err != nil {
		return "", fmt.Errorf("failed to reopen database after backup: %v", err)
	}

	log.Infof("[Cache:Backup] Backup created successfully: %s", backupFilePath)
	return backupFilePath, nil
}

// BackupAndClear creates a backup of the cache and then clears it
func (pc *PersistentCache) BackupAndClear() (string, error) {
	backupPath, err := pc.Backup()
	if err != nil {
		return "", fmt.Errorf("failed to create backup: %v", err)
	}

	if err := pc.Clear(); err != nil {
		return backupPath, fmt.Errorf("backup created but failed to clear cache: %v", err)
	}

	log.Infof("[Cache:Clear] Cache cleared successfully (backup: %s)", backupPath)
	return backupPath, nil
}

// reopenDatabase reopens the database connection
func (pc *PersistentCache) reopenDatabase() error {
	db, err := bolt.Open(pc.dbPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to reopen database: %v", err)
	}
	pc.db = db

	if err := pc.loadToMemory(); err != nil {
		log.Warnf("[Cache] Failed to reload cache to memory: %v", err)
	}

	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	// Sync to ensure data is written to disk
	return destFile.Sync()
}

// Close closes the database connection
func (pc *PersistentCache) Close() error {
	if pc.db != nil {
		return pc.db.Close()
	}
	return nil
}

// BackupInfo contains metadata about a backup file
type BackupInfo struct {
	FileName  string    `json:"fileName"`
	FilePath  string    `json:"filePath"`
	Size      int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListBackups returns a list of all available backup files
func (pc *PersistentCache) ListBackups() ([]BackupInfo, error) {
	var backups []BackupInfo

	entries, err := os.ReadDir(pc.backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return backups, nil // no backups directory yet
		}
		return nil, fmt.Errorf("failed to read backup directory: %v", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if filepath.Ext(entry.Name()) != ".db" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Warnf("[Cache:Backups] Failed to get info for %s: %v", entry.Name(), err)
			continue
		}

		backups = append(backups, BackupInfo{
			FileName:  entry.Name(),
			FilePath:  filepath.Join(pc.backupPath, entry.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	return backups, nil
}

// RestoreFromBackup replaces the current cache database with a backup
// This will close the current database, replace the file, and reopen it
func (pc *PersistentCache) RestoreFromBackup(backupFileName string) error {
	backupFilePath := filepath.Join(pc.backupPath, backupFileName)

	if _, err := os.Stat(backupFilePath); os.IsNotExist(err) {
		return fmt.Errorf("backup file not found: %s", backupFileName)
	}

	if filepath.Ext(backupFileName) != ".db" {
		return fmt.Errorf("invalid backup file: must be a .db file")
	}

	log.Infof("[Cache:Restore] Starting restore from backup: %s", backupFileName)

	if err := pc.db.Close(); err != nil {
		return fmt.Errorf("failed to close current database: %v", err)
	}

	// Keep the current database around until the restore is known good.
	currentBackupPath := pc.dbPath + ".pre-restore"
	if err := copyFile(pc.dbPath, currentBackupPath); err != nil {
		pc.reopenDatabase()
		return fmt.Errorf("failed to backup current database: %v", err)
	}

	if err := copyFile(backupFilePath, pc.dbPath); err != nil {
		copyFile(currentBackupPath, pc.dbPath) //nolint:errcheck
		pc.reopenDatabase()
		return fmt.Errorf("failed to restore backup: %v", err)
	}

	os.Remove(currentBackupPath)

	// Drop everything cached from the old database before reloading.
	pc.memCache.Range(func(key, value interface{}) bool {
		pc.memCache.Delete(key)
		return true
	})

	if err := pc.reopenDatabase(); err != nil {
		return fmt.Errorf("failed to reopen database after restore: %v", err)
	}

	log.Infof("[Cache:Restore] Successfully restored from backup: %s", backupFileName)
	return nil
}

// DeleteBackup deletes a specific backup file
func (pc *PersistentCache) DeleteBackup(backupFileName string) error {
	backupFilePath := filepath.Join(pc.backupPath, backupFileName)

	if filepath.Ext(backupFileName) != ".db" {
		return fmt.Errorf("invalid backup file: must be a .db file")
	}

	if _, err := os.Stat(backupFilePath); os.IsNotExist(err) {
		return fmt.Errorf("backup file not found: %s", backupFileName)
	}

	if err := os.Remove(backupFilePath); err != nil {
		return fmt.Errorf("failed to delete backup: %v", err)
	}

	log.Infof("[Cache:Backup] Deleted backup: %s", backupFileName)
	return nil
}
