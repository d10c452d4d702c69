package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"songpool-api-go/game"
	"songpool-api-go/logcolors"
	"songpool-api-go/services/hints"
	"songpool-api-go/services/notifier"
	"songpool-api-go/stats"
	"songpool-api-go/upstream"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// upstreamError maps an upstream failure to an HTTP response. Rejected
// credentials are the caller's problem, everything else is a bad gateway.
func upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *upstream.AuthError
	if errors.As(err, &authErr) {
		Respond(w, r).Error(http.StatusUnauthorized, map[string]interface{}{
			"error":        "Upstream rejected the provided credentials",
			"auth_expired": true,
		})
		return
	}
	Respond(w, r).Error(http.StatusBadGateway, map[string]interface{}{
		"error": err.Error(),
	})
}

// roomError maps game service errors to HTTP responses, returning true when
// it wrote one.
func roomError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, game.ErrRoomNotFound):
		Respond(w, r).Error(http.StatusNotFound, map[string]interface{}{"error": "Room not found"})
	case errors.Is(err, game.ErrPlayerNotFound):
		Respond(w, r).Error(http.StatusNotFound, map[string]interface{}{"error": "Player not found in room"})
	case errors.Is(err, game.ErrSongNotFound):
		Respond(w, r).Error(http.StatusNotFound, map[string]interface{}{"error": "Song not found in room pool"})
	case errors.Is(err, game.ErrAggregating):
		Respond(w, r).Error(http.StatusConflict, map[string]interface{}{"error": "Aggregation already running for this player"})
	case errors.Is(err, game.ErrNoSource):
		Respond(w, r).Error(http.StatusBadRequest, map[string]interface{}{"error": "No players have submitted a music source yet"})
	case errors.Is(err, game.ErrPoolNotReady):
		Respond(w, r).Error(http.StatusConflict, map[string]interface{}{"error": "Pool is not ready, aggregation still in progress or nobody finished"})
	default:
		Respond(w, r).Error(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}
	return true
}

func createRoom(w http.ResponseWriter, r *http.Request) {
	view, err := gameService.CreateRoom()
	if roomError(w, r, err) {
		return
	}
	Respond(w, r).Status(http.StatusCreated, view)
}

func getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	view, err := gameService.Room(roomID)
	if roomError(w, r, err) {
		return
	}
	gameService.Touch(roomID)
	Respond(w, r).JSON(view)
}

func joinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		Respond(w, r).Error(http.StatusBadRequest, map[string]interface{}{
			"error": "Body must be JSON with at least an identity field",
		})
		return
	}

	view, err := gameService.JoinRoom(roomID, req.Identity, req.DisplayName)
	if roomError(w, r, err) {
		return
	}
	Respond(w, r).JSON(view)
}

func submitSource(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	var req submitSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" || req.Token == "" {
		Respond(w, r).Error(http.StatusBadRequest, map[string]interface{}{
			"error": "Body must be JSON with identity and token fields",
		})
		return
	}

	if err := gameService.SubmitSource(roomID, req.Identity, req.Token, req.Playlists); roomError(w, r, err) {
		return
	}
	Respond(w, r).JSON(map[string]interface{}{
		"message":   "Source submitted",
		"identity":  req.Identity,
		"playlists": len(req.Playlists),
	})
}

func startAggregation(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	started, err := gameService.StartAggregation(roomID)
	if roomError(w, r, err) {
		return
	}
	Respond(w, r).Status(http.StatusAccepted, map[string]interface{}{
		"message": "Aggregation started",
		"started": started,
	})
}

func getProgress(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	progress, err := gameService.Progress(roomID)
	if roomError(w, r, err) {
		return
	}
	Respond(w, r).JSON(map[string]interface{}{
		"room_id":  roomID,
		"progress": progress,
	})
}

func getPool(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	songs, err := gameService.Pool(roomID)
	if roomError(w, r, err) {
		return
	}
	gameService.Touch(roomID)
	Respond(w, r).JSON(map[string]interface{}{
		"room_id": roomID,
		"count":   len(songs),
		"songs":   songs,
	})
}

func getHint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomID, songID := vars["roomId"], vars["songId"]

	if hintService == nil {
		Respond(w, r).Error(http.StatusNotFound, map[string]interface{}{
			"error": "Lyric hints are disabled on this server",
		})
		return
	}

	song, err := gameService.Song(roomID, songID)
	if err != nil {
		if roomError(w, r, err) {
			return
		}
	}

	// Peek the cache before the lookup so the response can say HIT or MISS
	_, wasCached := persistentCache.Get(hints.CacheKey(songID))
	_, wasNegCached := persistentCache.Get(hints.MissKey(songID))

	fresh := &InFlightHint{}
	fresh.wg.Add(1)
	inFlight, loaded := inFlightHints.LoadOrStore(songID, fresh)
	req := inFlight.(*InFlightHint)

	if loaded {
		req.wg.Wait()
	} else {
		defer func() {
			req.wg.Done()
			time.AfterFunc(1*time.Second, func() {
				inFlightHints.Delete(songID)
			})
		}()
		req.hint, req.err = hintService.Hint(r.Context(), song)
	}

	if req.err != nil {
		if errors.Is(req.err, hints.ErrNoLyric) {
			status := "MISS"
			if wasNegCached {
				status = "NEGATIVE_HIT"
			}
			Respond(w, r).SetCacheStatus(status).Error(http.StatusNotFound, map[string]interface{}{
				"error": "No hint available for this song",
			})
			return
		}
		upstreamError(w, r, req.err)
		return
	}

	cacheStatus := "MISS"
	if wasCached {
		cacheStatus = "HIT"
	}
	Respond(w, r).SetCacheStatus(cacheStatus).SetProvider(req.hint.Provider).JSON(map[string]interface{}{
		"room_id": roomID,
		"hint":    req.hint,
	})
}

func serveWS(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	if _, err := gameService.Room(roomID); err != nil {
		Respond(w, r).Error(http.StatusNotFound, map[string]interface{}{"error": "Room not found"})
		return
	}

	if err := hub.Serve(w, r, roomID); err != nil {
		log.Warnf("%s Failed to upgrade connection for room %s: %v", logcolors.LogHub, roomID, err)
		return
	}
	gameService.Touch(roomID)
}

func verifyProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		Respond(w, r).Error(http.StatusBadRequest, map[string]interface{}{
			"error": "Body must be JSON with a token field",
		})
		return
	}

	identity := req.Identity
	if identity == "" {
		identity = "profile"
	}

	profile, err := spotifyClient.Profile(r.Context(), identity, req.Token)
	if err != nil {
		upstreamError(w, r, err)
		return
	}
	Respond(w, r).JSON(profile)
}

func listPlaylists(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" || req.Token == "" {
		Respond(w, r).Error(http.StatusBadRequest, map[string]interface{}{
			"error": "Body must be JSON with identity and token fields",
		})
		return
	}

	playlists, err := catalog.Playlists(r.Context(), req.Identity, req.Token)
	if err != nil {
		upstreamError(w, r, err)
		return
	}
	Respond(w, r).JSON(map[string]interface{}{
		"count":     len(playlists),
		"playlists": playlists,
	})
}

func getHealthStatus(w http.ResponseWriter, r *http.Request) {
	numKeys, sizeInKB := persistentCache.Stats()

	health := map[string]interface{}{
		"status": "ok",
		"uptime": stats.Get().Uptime().Round(time.Second).String(),
		"rooms":  gameService.Rooms(),
		"cache": map[string]interface{}{
			"keys":    numKeys,
			"size_kb": sizeInKB,
		},
		"hints_enabled": hintService != nil,
	}

	if breaker != nil {
		state := breaker.State()
		health["circuit_breaker"] = state.String()
		if state.String() == "OPEN" {
			health["status"] = "degraded"
			health["circuit_breaker_retry_in"] = breaker.TimeUntilRetry().String()
		}
	}

	Respond(w, r).JSON(health)
}

func getStats(w http.ResponseWriter, r *http.Request) {
	s := stats.Get()
	snapshot := s.Snapshot()

	numKeys, sizeInKB := persistentCache.Stats()
	snapshot["cache_storage"] = map[string]interface{}{
		"keys":    numKeys,
		"size_kb": sizeInKB,
		"size_mb": float64(sizeInKB) / 1024,
	}

	if breaker != nil {
		state, failures, _ := breaker.Stats()
		snapshot["circuit_breaker"] = map[string]interface{}{
			"state":              state.String(),
			"failures":           failures,
			"cooldown_remaining": breaker.TimeUntilRetry().String(),
		}
	}

	snapshot["upstream_buckets"] = outLimiter.Snapshot()
	snapshot["rooms"] = gameService.Rooms()

	Respond(w, r).JSON(snapshot)
}

func getCacheDump(w http.ResponseWriter, r *http.Request) {
	includeEntries := r.URL.Query().Get("summary") != "true"
	Respond(w, r).JSON(buildCacheDump(includeEntries))
}

func backupCache(w http.ResponseWriter, r *http.Request) {
	backupPath, err := persistentCache.Backup()
	if err != nil {
		log.Errorf("%s Failed to create backup: %v", logcolors.LogCacheBackup, err)
		notifier.PublishCacheBackupFailed(err)
		Respond(w, r).Error(http.StatusInternalServerError, map[string]interface{}{
			"error": fmt.Sprintf("Failed to create backup: %v", err),
		})
		return
	}

	log.Infof("%s Backup created successfully at: %s", logcolors.LogCacheBackup, backupPath)
	Respond(w, r).JSON(map[string]interface{}{
		"message":     "Backup created successfully",
		"backup_path": backupPath,
	})
}

func clearCache(w http.ResponseWriter, r *http.Request) {
	backupPath, err := persistentCache.BackupAndClear()
	if err != nil {
		log.Errorf("%s Failed to backup and clear cache: %v", logcolors.LogCacheClear, err)
		notifier.PublishCacheBackupFailed(err)
		Respond(w, r).Error(http.StatusInternalServerError, map[string]interface{}{
			"error": fmt.Sprintf("Failed to backup and clear cache: %v", err),
		})
		return
	}

	log.Infof("%s Cache cleared successfully, backup at: %s", logcolors.LogCacheClear, backupPath)
	notifier.PublishCacheCleared(backupPath)
	Respond(w, r).JSON(map[string]interface{}{
		"message":     "Cache cleared successfully",
		"backup_path": backupPath,
	})
}

func listBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := persistentCache.ListBackups()
	if err != nil {
		log.Errorf("%s Failed to list backups: %v", logcolors.LogCacheBackup, err)
		Respond(w, r).Error(http.StatusInternalServerError, map[string]interface{}{
			"error": fmt.Sprintf("Failed to list backups: %v", err),
		})
		return
	}

	Respond(w, r).JSON(map[string]interface{}{
		"count":   len(backups),
		"backups": backups,
	})
}

func restoreCache(w http.ResponseWriter, r *http.Request) {
	backupFileName := r.URL.Query().Get("backup")
	if backupFileName == "" {
		Respond(w, r).Error(http.StatusBadRequest, map[string]interface{}{
			"error": "Missing 'backup' query parameter. Use /cache/backups to list available backups.",
		})
		return
	}

	if err := persistentCache.RestoreFromBackup(backupFileName); err != nil {
		log.Errorf("%s Failed to restore from backup %s: %v", logcolors.LogCacheRestore, backupFileName, err)
		Respond(w, r).Error(http.StatusInternalServerError, map[string]interface{}{
			"error": fmt.Sprintf("Failed to restore from backup: %v", err),
		})
		return
	}

	numKeys, sizeKB := persistentCache.Stats()
	log.Infof("%s Cache restored from backup: %s", logcolors.LogCacheRestore, backupFileName)
	Respond(w, r).JSON(map[string]interface{}{
		"message":       "Cache restored successfully",
		"restored_from": backupFileName,
		"keys_restored": numKeys,
		"size_kb":       sizeKB,
	})
}

func deleteBackup(w http.ResponseWriter, r *http.Request) {
	backupFileName := r.URL.Query().Get("backup")
	if backupFileName == "" {
		Respond(w, r).Error(http.StatusBadRequest, map[string]interface{}{
			"error": "Missing 'backup' query parameter. Use /cache/backups to list available backups.",
		})
		return
	}

	if err := persistentCache.DeleteBackup(backupFileName); err != nil {
		Respond(w, r).Error(http.StatusInternalServerError, map[string]interface{}{
			"error": fmt.Sprintf("Failed to delete backup: %v", err),
		})
		return
	}

	Respond(w, r).JSON(map[string]interface{}{
		"message": "Backup deleted",
		"backup":  backupFileName,
	})
}

func invalidateUserCache(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]

	removed := catalog.InvalidateUser(identity)
	log.Infof("%s Invalidated %d cached listings for %s", logcolors.LogCache, removed, logcolors.Identity(identity))
	Respond(w, r).JSON(map[string]interface{}{
		"message":  "User cache invalidated",
		"identity": identity,
		"removed":  removed,
	})
}

func getCircuitBreakerStatus(w http.ResponseWriter, r *http.Request) {
	if breaker == nil {
		Respond(w, r).JSON(map[string]interface{}{"enabled": false})
		return
	}

	state, failures, _ := breaker.Stats()
	Respond(w, r).JSON(map[string]interface{}{
		"enabled":          true,
		"state":            state.String(),
		"failures":         failures,
		"time_until_retry": breaker.TimeUntilRetry().String(),
		"config": map[string]interface{}{
			"threshold": conf.Configuration.CircuitBreakerThreshold,
			"cooldown":  conf.Configuration.CircuitBreakerCooldown.String(),
		},
	})
}

func resetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	if breaker == nil {
		Respond(w, r).Error(http.StatusBadRequest, map[string]interface{}{
			"error": "Circuit breaker is disabled",
		})
		return
	}

	breaker.Reset()
	Respond(w, r).JSON(map[string]interface{}{
		"message": "Circuit breaker reset to CLOSED state",
	})
}

func testNotifications(w http.ResponseWriter, r *http.Request) {
	notifiers := setupNotifiers()

	if len(notifiers) == 0 {
		Respond(w, r).Error(http.StatusBadRequest, map[string]interface{}{
			"error": "No notifiers configured. Please configure at least one notifier in your .env file.",
			"help": map[string]string{
				"telegram": "Set NOTIFIER_TELEGRAM_BOT_TOKEN and NOTIFIER_TELEGRAM_CHAT_ID",
				"email":    "Set NOTIFIER_SMTP_HOST, NOTIFIER_SMTP_USERNAME, NOTIFIER_SMTP_PASSWORD, etc.",
				"ntfy":     "Set NOTIFIER_NTFY_TOPIC",
			},
		})
		return
	}

	subject := "Test: songpool alerts"
	message := fmt.Sprintf(
		"TEST NOTIFICATION\n\n"+
			"Your alert setup is working correctly.\n\n"+
			"Server uptime: %v\n"+
			"Live rooms:    %d\n\n"+
			"You will receive similar notifications for circuit breaker trips,\n"+
			"aggregation failures and reaped rooms.",
		stats.Get().Uptime().Round(time.Second),
		gameService.Rooms(),
	)

	results := make(map[string]interface{})
	successCount := 0
	failCount := 0

	for _, n := range notifiers {
		notifierType := getNotifierTypeName(n)
		if err := n.Send(subject, message); err != nil {
			results[notifierType] = map[string]string{
				"status": "failed",
				"error":  err.Error(),
			}
			failCount++
			log.Errorf("%s %s failed: %v", logcolors.LogNotifier, notifierType, err)
		} else {
			results[notifierType] = map[string]string{
				"status": "success",
			}
			successCount++
			log.Infof("%s %s sent successfully", logcolors.LogNotifier, notifierType)
		}
	}

	response := map[string]interface{}{
		"message":    "Test notifications sent",
		"total":      len(notifiers),
		"successful": successCount,
		"failed":     failCount,
		"results":    results,
	}

	if failCount > 0 {
		Respond(w, r).Status(http.StatusPartialContent, response)
		return
	}
	Respond(w, r).JSON(response)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	Respond(w, r).JSON(map[string]interface{}{
		"name":    "songpool-api",
		"message": "Create a room, have every player join and submit a Spotify token, aggregate, then pull the merged pool.",
		"rooms": []string{
			"POST /rooms",
			"GET /rooms/{roomId}",
			"POST /rooms/{roomId}/join",
			"POST /rooms/{roomId}/source",
			"POST /rooms/{roomId}/aggregate",
			"GET /rooms/{roomId}/progress",
			"GET /rooms/{roomId}/pool",
			"GET /rooms/{roomId}/songs/{songId}/hint",
			"GET /ws/{roomId}",
		},
		"spotify": []string{
			"POST /profile",
			"POST /playlists",
		},
		"management": []string{
			"GET /health",
			"GET /stats",
			"GET /cache?summary=true",
			"POST /cache/backup",
			"GET /cache/backups",
			"POST /cache/restore?backup=<file>",
			"DELETE /cache/backups?backup=<file>",
			"POST /cache/clear",
			"POST /cache/invalidate/{identity}",
			"GET /circuit-breaker",
			"POST /circuit-breaker/reset",
			"POST /test-notifications",
		},
	})
}
