package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupTestCache creates a temporary cache for testing
func setupTestCache(t *testing.T, compression bool) (*PersistentCache, string, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test_cache.db")
	backupPath := filepath.Join(tmpDir, "backups")

	cache, err := NewPersistentCache(dbPath, backupPath, compression, 32)
	if err != nil {
		t.Fatalf("Failed to create test cache: %v", err)
	}

	cleanup := func() {
		cache.Close()
	}

	return cache, tmpDir, cleanup
}

func TestNewPersistentCache(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "cache.db")
	backupPath := filepath.Join(tmpDir, "backups")

	cache, err := NewPersistentCache(dbPath, backupPath, true, 1024)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	if cache.db == nil {
		t.Error("Expected database to be initialized")
	}
	if cache.dbPath != dbPath {
		t.Errorf("Expected dbPath %q, got %q", dbPath, cache.dbPath)
	}
	if cache.backupPath != backupPath {
		t.Errorf("Expected backupPath %q, got %q", backupPath, cache.backupPath)
	}
	if !cache.compressionEnabled {
		t.Error("Expected compression to be enabled")
	}

	// Verify directories were created
	if _, err := os.Stat(tmpDir); os.IsNotExist(err) {
		t.Error("Expected cache directory to be created")
	}
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		t.Error("Expected backup directory to be created")
	}
}

func TestSetAndGet(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	key := "playlists:user-1:"
	value := `[{"id":"pl1"}]`

	if err := cache.Set(key, value, time.Minute); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}

	retrieved, found := cache.Get(key)
	if !found {
		t.Fatal("Expected to find the key, but it was not found")
	}
	if retrieved != value {
		t.Errorf("Expected %q, got %q", value, retrieved)
	}
}

func TestSetWithoutExpiry(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	if err := cache.Set("forever", "value", 0); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}

	if _, found := cache.Get("forever"); !found {
		t.Error("Expected non-expiring entry to be retrievable")
	}
	if removed := cache.Sweep(); removed != 0 {
		t.Errorf("Expected sweep to leave non-expiring entries alone, removed %d", removed)
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	if err := cache.Set("short-lived", "value", 20*time.Millisecond); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}

	if _, found := cache.Get("short-lived"); !found {
		t.Fatal("Expected fresh entry to be found")
	}

	time.Sleep(30 * time.Millisecond)

	if _, found := cache.Get("short-lived"); found {
		t.Error("Expected expired entry to be reported as a miss")
	}

	// The expired read should have evicted the entry entirely.
	numKeys, _ := cache.Stats()
	if numKeys != 0 {
		t.Errorf("Expected expired entry evicted, still have %d keys", numKeys)
	}
}

func TestSetAndGetWithCompression(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, true)
	defer cleanup()

	key := "tracks:user-1:pl1"
	value := strings.Repeat(`{"id":"t1","name":"Song"},`, 50)

	if err := cache.Set(key, value, time.Minute); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}

	stored, ok := cache.memCache.Load(key)
	if !ok {
		t.Fatal("Expected entry in memory cache")
	}
	if !stored.(Entry).Compressed {
		t.Error("Expected large value to be stored compressed")
	}

	retrieved, found := cache.Get(key)
	if !found {
		t.Fatal("Expected to find the key")
	}
	if retrieved != value {
		t.Error("Expected round-tripped value to match original")
	}
}

func TestSmallValuesSkipCompression(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, true) // floor is 32 bytes
	defer cleanup()

	if err := cache.Set("tiny", "short", time.Minute); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}

	stored, ok := cache.memCache.Load("tiny")
	if !ok {
		t.Fatal("Expected entry in memory cache")
	}
	if stored.(Entry).Compressed {
		t.Error("Expected value below the floor to be stored uncompressed")
	}
}

func TestGetNonExistentKey(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	if _, found := cache.Get("missing"); found {
		t.Error("Expected missing key to not be found")
	}
}

func TestDelete(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	if err := cache.Set("doomed", "value", time.Minute); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}
	if _, found := cache.Get("doomed"); !found {
		t.Fatal("Expected key before delete")
	}

	if err := cache.Delete("doomed"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, found := cache.Get("doomed"); found {
		t.Error("Expected key gone after delete")
	}
}

func TestDeletePrefix(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	entries := map[string]string{
		"playlists:user-1:":     "a",
		"tracks:user-1:pl1":     "b",
		"tracks:user-1:pl2":     "c",
		"tracks:user-2:pl9":     "d",
		"liked-tracks:user-1:":  "e",
		"tracks-and-more:user1": "f",
	}
	for k, v := range entries {
		if err := cache.Set(k, v, time.Minute); err != nil {
			t.Fatalf("Failed to set %s: %v", k, err)
		}
	}

	removed, err := cache.DeletePrefix("tracks:user-1:")
	if err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 entries removed, got %d", removed)
	}

	for _, gone := range []string{"tracks:user-1:pl1", "tracks:user-1:pl2"} {
		if _, found := cache.Get(gone); found {
			t.Errorf("Expected %s removed", gone)
		}
	}
	for _, kept := range []string{"playlists:user-1:", "tracks:user-2:pl9", "liked-tracks:user-1:", "tracks-and-more:user1"} {
		if _, found := cache.Get(kept); !found {
			t.Errorf("Expected %s kept", kept)
		}
	}
}

func TestSweep(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	if err := cache.Set("stale", "value", 10*time.Millisecond); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	if err := cache.Set("fresh", "value", time.Hour); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if removed := cache.Sweep(); removed != 1 {
		t.Errorf("Expected 1 entry swept, got %d", removed)
	}

	if _, found := cache.Get("fresh"); !found {
		t.Error("Expected fresh entry to survive the sweep")
	}
	numKeys, _ := cache.Stats()
	if numKeys != 1 {
		t.Errorf("Expected 1 key after sweep, got %d", numKeys)
	}
}

func TestClear(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	for i := 0; i < 5; i++ {
		if err := cache.Set(fmt.Sprintf("key-%d", i), "value", time.Minute); err != nil {
			t.Fatalf("Failed to set: %v", err)
		}
	}

	if err := cache.Clear(); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}

	numKeys, _ := cache.Stats()
	if numKeys != 0 {
		t.Errorf("Expected empty cache after clear, got %d keys", numKeys)
	}
	if _, found := cache.Get("key-0"); found {
		t.Error("Expected cleared key to be gone")
	}
}

func TestStats(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	numKeys, _ := cache.Stats()
	if numKeys != 0 {
		t.Errorf("Expected 0 keys initially, got %d", numKeys)
	}

	for i := 0; i < 3; i++ {
		if err := cache.Set(fmt.Sprintf("key-%d", i), strings.Repeat("x", 100), time.Minute); err != nil {
			t.Fatalf("Failed to set: %v", err)
		}
	}

	numKeys, _ = cache.Stats()
	if numKeys != 3 {
		t.Errorf("Expected 3 keys, got %d", numKeys)
	}
}

func TestRange(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	for i := 0; i < 3; i++ {
		if err := cache.Set(fmt.Sprintf("key-%d", i), "value", time.Minute); err != nil {
			t.Fatalf("Failed to set: %v", err)
		}
	}

	seen := make(map[string]bool)
	cache.Range(func(key string, entry Entry) bool {
		seen[key] = true
		return true
	})

	if len(seen) != 3 {
		t.Errorf("Expected to visit 3 entries, visited %d", len(seen))
	}
}

func TestBackup(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	if err := cache.Set("survivor", "value", time.Hour); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}

	backupPath, err := cache.Backup()
	if err != nil {
		t.Fatalf("Backup failed: %v", err)
	}

	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		t.Errorf("Expected backup file at %s", backupPath)
	}

	// Cache must still work after the close/reopen cycle.
	if _, found := cache.Get("survivor"); !found {
		t.Error("Expected entry to survive backup")
	}

	backups, err := cache.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("Expected 1 backup listed, got %d", len(backups))
	}
}

func TestBackupAndClear(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	if err := cache.Set("gone-after-clear", "value", time.Hour); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}

	backupPath, err := cache.BackupAndClear()
	if err != nil {
		t.Fatalf("BackupAndClear failed: %v", err)
	}
	if backupPath == "" {
		t.Error("Expected backup path")
	}

	numKeys, _ := cache.Stats()
	if numKeys != 0 {
		t.Errorf("Expected empty cache after clear, got %d keys", numKeys)
	}
}

func TestRestoreFromBackup(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	if err := cache.Set("restored", "value", time.Hour); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}

	backupPath, err := cache.Backup()
	if err != nil {
		t.Fatalf("Backup failed: %v", err)
	}

	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, found := cache.Get("restored"); found {
		t.Fatal("Expected entry gone after clear")
	}

	if err := cache.RestoreFromBackup(filepath.Base(backupPath)); err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}

	if _, found := cache.Get("restored"); !found {
		t.Error("Expected entry back after restore")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "cache.db")
	backupPath := filepath.Join(tmpDir, "backups")

	cache, err := NewPersistentCache(dbPath, backupPath, false, 32)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	if err := cache.Set("durable", "value", time.Hour); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	if err := cache.Set("ephemeral", "value", 10*time.Millisecond); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	cache.Close()

	time.Sleep(20 * time.Millisecond)

	reopened, err := NewPersistentCache(dbPath, backupPath, false, 32)
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}
	defer reopened.Close()

	if _, found := reopened.Get("durable"); !found {
		t.Error("Expected durable entry after reopen")
	}
	// Entries that expired while the cache was closed are dropped at load.
	if _, found := reopened.Get("ephemeral"); found {
		t.Error("Expected expired entry dropped at load")
	}
}

func TestCacheWithEmptyValue(t *testing.T) {
	cache, _, cleanup := setupTestCache(t, false)
	defer cleanup()

	if err := cache.Set("empty", "", time.Minute); err != nil {
		t.Fatalf("Failed to set empty value: %v", err)
	}

	value, found := cache.Get("empty")
	if !found {
		t.Error("Expected empty value to be found")
	}
	if value != "" {
		t.Errorf("Expected empty string, got %q", value)
	}
}
