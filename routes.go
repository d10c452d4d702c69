package main

import (
	"github.com/gorilla/mux"
)

// setupRoutes configures all HTTP routes for the API
func setupRoutes(router *mux.Router) {
	// Room lifecycle endpoints
	router.HandleFunc("/rooms", createRoom).Methods("POST")
	router.HandleFunc("/rooms/{roomId}", getRoom).Methods("GET")
	router.HandleFunc("/rooms/{roomId}/join", joinRoom).Methods("POST")
	router.HandleFunc("/rooms/{roomId}/source", submitSource).Methods("POST")
	router.HandleFunc("/rooms/{roomId}/aggregate", startAggregation).Methods("POST")
	router.HandleFunc("/rooms/{roomId}/progress", getProgress).Methods("GET")
	router.HandleFunc("/rooms/{roomId}/pool", getPool).Methods("GET")
	router.HandleFunc("/rooms/{roomId}/songs/{songId}/hint", getHint).Methods("GET")

	// WebSocket endpoint - pushes room lifecycle events to connected players
	router.HandleFunc("/ws/{roomId}", serveWS)

	// Spotify passthrough endpoints - tokens travel in the body, never in the URL
	router.HandleFunc("/profile", verifyProfile).Methods("POST")
	router.HandleFunc("/playlists", listPlaylists).Methods("POST")

	// Cache management endpoints
	router.HandleFunc("/cache", getCacheDump).Methods("GET")
	router.HandleFunc("/cache/backup", backupCache).Methods("POST")
	router.HandleFunc("/cache/backups", listBackups).Methods("GET")
	router.HandleFunc("/cache/backups", deleteBackup).Methods("DELETE")
	router.HandleFunc("/cache/restore", restoreCache).Methods("POST")
	router.HandleFunc("/cache/clear", clearCache).Methods("POST")
	router.HandleFunc("/cache/invalidate/{identity}", invalidateUserCache).Methods("POST")

	// Health and stats endpoints
	router.HandleFunc("/health", getHealthStatus).Methods("GET")
	router.HandleFunc("/stats", getStats).Methods("GET")

	// Circuit breaker endpoints
	router.HandleFunc("/circuit-breaker", getCircuitBreakerStatus).Methods("GET")
	router.HandleFunc("/circuit-breaker/reset", resetCircuitBreaker).Methods("POST")

	// Test/debug endpoints
	router.HandleFunc("/test-notifications", testNotifications).Methods("POST")

	// Help endpoint
	router.HandleFunc("/", helpHandler)
}
