package middleware

import (
	"net/http"
	"strings"

	"songpool-api-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// APIKeyMiddleware guards the management surface with an X-API-Key header.
// Gameplay paths are listed as public so players never need a key; when
// required is false the guard is a pass-through. If required is true but no
// key is configured, a warning is logged and requests are allowed.
func APIKeyMiddleware(apiKey string, required bool, publicPaths []string) func(http.Handler) http.Handler {
	// Build a map for O(1) lookup of public paths
	publicPathMap := make(map[string]bool)
	for _, path := range publicPaths {
		publicPathMap[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// If API key auth is not required, allow all requests
			if !required {
				next.ServeHTTP(w, r)
				return
			}

			// If required but no API key configured, warn and allow (misconfiguration)
			if apiKey == "" {
				log.Warnf("%s API key required but not configured, allowing request", logcolors.LogAPIKey)
				next.ServeHTTP(w, r)
				return
			}

			// Check if path is public (exact match or prefix match for paths ending with *)
			path := r.URL.Path
			isPublic := publicPathMap[path]
			if !isPublic {
				for publicPath := range publicPathMap {
					if strings.HasSuffix(publicPath, "*") {
						prefix := strings.TrimSuffix(publicPath, "*")
						if strings.HasPrefix(path, prefix) {
							isPublic = true
							break
						}
					}
				}
			}

			if isPublic {
				next.ServeHTTP(w, r)
				return
			}

			// Check X-API-Key header
			providedKey := r.Header.Get("X-API-Key")
			if providedKey == "" {
				log.Warnf("%s Missing API key from %s for %s", logcolors.LogAPIKey, r.RemoteAddr, path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"API key required","message":"Provide a valid API key via X-API-Key header"}`))
				return
			}

			if providedKey != apiKey {
				log.Warnf("%s Invalid API key from %s for %s", logcolors.LogAPIKey, r.RemoteAddr, path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"Invalid API key","message":"The provided API key is not valid"}`))
				return
			}

			// Valid API key, acknowledge and proceed
			w.Header().Set("X-Auth-Mode", "authenticated")
			next.ServeHTTP(w, r)
		})
	}
}
