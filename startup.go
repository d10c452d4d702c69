package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"songpool-api-go/logcolors"
	"songpool-api-go/middleware"
	"songpool-api-go/services/notifier"
	"songpool-api-go/stats"
	"strings"

	log "github.com/sirupsen/logrus"
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getNotifierTypeName(n notifier.Notifier) string {
	switch n.(type) {
	case *notifier.EmailNotifier:
		return "email"
	case *notifier.TelegramNotifier:
		return "telegram"
	case *notifier.NtfyNotifier:
		return "ntfy"
	default:
		return "unknown"
	}
}

func setupNotifiers() []notifier.Notifier {
	var notifiers []notifier.Notifier

	if smtpHost := os.Getenv("NOTIFIER_SMTP_HOST"); smtpHost != "" {
		emailNotifier := &notifier.EmailNotifier{
			SMTPHost:     smtpHost,
			SMTPPort:     getEnvOrDefault("NOTIFIER_SMTP_PORT", "587"),
			SMTPUsername: os.Getenv("NOTIFIER_SMTP_USERNAME"),
			SMTPPassword: os.Getenv("NOTIFIER_SMTP_PASSWORD"),
			FromEmail:    os.Getenv("NOTIFIER_FROM_EMAIL"),
			ToEmail:      os.Getenv("NOTIFIER_TO_EMAIL"),
		}
		notifiers = append(notifiers, emailNotifier)
		log.Infof("%s Email notifier enabled", logcolors.LogNotifier)
	}

	if botToken := os.Getenv("NOTIFIER_TELEGRAM_BOT_TOKEN"); botToken != "" {
		telegramNotifier := &notifier.TelegramNotifier{
			BotToken: botToken,
			ChatID:   os.Getenv("NOTIFIER_TELEGRAM_CHAT_ID"),
		}
		notifiers = append(notifiers, telegramNotifier)
		log.Infof("%s Telegram notifier enabled", logcolors.LogNotifier)
	}

	if topic := os.Getenv("NOTIFIER_NTFY_TOPIC"); topic != "" {
		ntfyNotifier := &notifier.NtfyNotifier{
			Topic:  topic,
			Server: getEnvOrDefault("NOTIFIER_NTFY_SERVER", "https://ntfy.sh"),
		}
		notifiers = append(notifiers, ntfyNotifier)
		log.Infof("%s Ntfy.sh notifier enabled", logcolors.LogNotifier)
	}

	return notifiers
}

// isManagementPath reports whether a request belongs to the management
// surface, which draws from its own rate limit budget.
func isManagementPath(path string) bool {
	return strings.HasPrefix(path, "/cache") ||
		strings.HasPrefix(path, "/stats") ||
		strings.HasPrefix(path, "/circuit-breaker") ||
		strings.HasPrefix(path, "/test-notifications")
}

func limitMiddleware(next http.Handler, limiter *middleware.IPRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check for API key to bypass rate limits
		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" && conf.Configuration.APIKey != "" && apiKey == conf.Configuration.APIKey {
			w.Header().Set("X-RateLimit-Bypass", "true")
			ctx := context.WithValue(r.Context(), rateLimitTypeKey, "bypass")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		limiters := limiter.GetLimiter(r.RemoteAddr)

		// Gameplay and management traffic draw from separate buckets, so a
		// lobby spamming /rooms cannot lock an operator out of /cache.
		tier := limiters.Game
		tierName := "game"
		tierLimit := limiter.GetGameLimit()
		if isManagementPath(r.URL.Path) {
			tier = limiters.Management
			tierName = "management"
			tierLimit = limiter.GetManagementLimit()
		}

		if tier.Allow() {
			stats.Get().RecordRateLimit(tierName)
			remaining := limiters.GetGameTokens()
			if tierName == "management" {
				remaining = limiters.GetManagementTokens()
			}
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", tierLimit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Type", tierName)
			ctx := context.WithValue(r.Context(), rateLimitTypeKey, tierName)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		stats.Get().RecordRateLimit("exceeded")
		log.Warnf("%s IP %s exceeded the %s tier", logcolors.LogRateLimit, r.RemoteAddr, tierName)
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", tierLimit))
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Type", "exceeded")
		w.Header().Set("Retry-After", "1")
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	})
}
