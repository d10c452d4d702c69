package middleware

import (
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// LimiterPair holds both game and management tier limiters for an IP
type LimiterPair struct {
	Game       *rate.Limiter
	Management *rate.Limiter
}

// GetGameTokens returns the number of tokens available in the game tier
func (lp *LimiterPair) GetGameTokens() int {
	return int(math.Floor(lp.Game.Tokens()))
}

// GetManagementTokens returns the number of tokens available in the management tier
func (lp *LimiterPair) GetManagementTokens() int {
	return int(math.Floor(lp.Management.Tokens()))
}

// IPRateLimiter manages two-tier rate limiting per IP. Gameplay traffic
// (rooms, pools, hints) and management traffic (cache, stats, breaker)
// draw from independent budgets so a chatty lobby cannot lock an
// operator out of the admin surface.
type IPRateLimiter struct {
	ips             map[string]*LimiterPair
	mu              *sync.RWMutex
	gameRate        rate.Limit
	gameBurst       int
	managementRate  rate.Limit
	managementBurst int
}

// GetGameLimit returns the game tier burst limit
func (i *IPRateLimiter) GetGameLimit() int {
	return i.gameBurst
}

// GetManagementLimit returns the management tier burst limit
func (i *IPRateLimiter) GetManagementLimit() int {
	return i.managementBurst
}

// NewIPRateLimiter creates a new two-tier rate limiter
func NewIPRateLimiter(gameRate rate.Limit, gameBurst int, managementRate rate.Limit, managementBurst int) *IPRateLimiter {
	i := &IPRateLimiter{
		ips:             make(map[string]*LimiterPair),
		mu:              &sync.RWMutex{},
		gameRate:        gameRate,
		gameBurst:       gameBurst,
		managementRate:  managementRate,
		managementBurst: managementBurst,
	}

	return i
}

func (i *IPRateLimiter) AddIP(ip string) *LimiterPair {
	i.mu.Lock()
	defer i.mu.Unlock()

	pair := &LimiterPair{
		Game:       rate.NewLimiter(i.gameRate, i.gameBurst),
		Management: rate.NewLimiter(i.managementRate, i.managementBurst),
	}

	i.ips[ip] = pair

	return pair
}

func (i *IPRateLimiter) GetLimiter(ip string) *LimiterPair {
	i.mu.Lock()
	limiter, exists := i.ips[ip]

	if !exists {
		i.mu.Unlock()
		return i.AddIP(ip)
	}

	i.mu.Unlock()

	return limiter
}
