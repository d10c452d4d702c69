package logcolors

// ANSI color codes for log prefixes
const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"

	// Bright variants for more color variety
	BrightGreen   = "\033[92m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"

	// Red variants (for identities and warnings only)
	Red       = "\033[31m"
	BrightRed = "\033[91m"
)

// Cache-related log prefixes
const (
	LogCacheInit    = Blue + "[Cache:Init]" + Reset
	LogCache        = Blue + "[Cache]" + Reset
	LogCacheBackup  = Blue + "[Cache:Backup]" + Reset
	LogCacheClear   = Blue + "[Cache:Clear]" + Reset
	LogCacheRestore = Blue + "[Cache:Restore]" + Reset
	LogCacheSweep   = Cyan + "[Cache:Sweep]" + Reset
)

// Outbound request pipeline log prefixes
const (
	LogLimiter  = Purple + "[Limiter]" + Reset
	LogUpstream = Cyan + "[Upstream]" + Reset
	LogThrottle = Purple + "[Throttle]" + Reset
	LogPages    = Blue + "[Pages]" + Reset
)

// Inbound HTTP log prefixes
const (
	LogHTTP      = Green + "[HTTP]" + Reset
	LogRateLimit = Purple + "[RateLimit]" + Reset
	LogAPIKey    = Purple + "[APIKey]" + Reset
)

// CircuitBreakerPrefix returns a colored circuit breaker prefix with the given name
func CircuitBreakerPrefix(name string) string {
	return Purple + "[CircuitBreaker:" + name + "]" + Reset
}

// identityColors are the colors used for caller identities (rotating based on hash)
var identityColors = []string{
	Green, Blue, Purple, Cyan, Red,
	BrightGreen, BrightBlue, BrightMagenta, BrightCyan, BrightRed,
}

// Identity returns a colored caller identity for log messages.
// The same identity always gets the same color.
func Identity(id string) string {
	hash := 0
	for _, c := range id {
		hash += int(c)
	}
	color := identityColors[hash%len(identityColors)]
	return color + id + Reset
}

// Server/Init log prefixes
const (
	LogServer  = Green + "[Server]" + Reset
	LogStartup = Green + "[Startup]" + Reset
	LogConfig  = Cyan + "[Config]" + Reset
	LogStats   = Blue + "[Stats]" + Reset
)

// Game and aggregation log prefixes
const (
	LogLibrary = Blue + "[Library]" + Reset
	LogPool    = Green + "[Pool]" + Reset
	LogGame    = Green + "[Game]" + Reset
	LogRoom    = Cyan + "[Room]" + Reset
	LogReaper  = Cyan + "[Reaper]" + Reset
	LogHub     = BrightBlue + "[Hub]" + Reset
	LogStore   = Blue + "[Store]" + Reset
)

// Hint provider log prefixes
const (
	LogHints  = Blue + "[Hints]" + Reset
	LogSearch = Blue + "[Search]" + Reset
	LogMatch  = Green + "[Match]" + Reset
)

// Notification log prefixes
const (
	LogNotifier = Cyan + "[Notifier]" + Reset
	LogWarning  = Red + "[Warning]" + Reset
)
