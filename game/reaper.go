package game

import (
	"time"

	"songpool-api-go/logcolors"
	"songpool-api-go/services/notifier"

	log "github.com/sirupsen/logrus"
)

// Reaper removes rooms nobody has touched for longer than the TTL. Paused
// parties survive as long as someone polls or a socket stays connected.
type Reaper struct {
	svc *Service
	ttl time.Duration
}

// NewReaper creates a reaper over the given service.
func NewReaper(svc *Service, ttl time.Duration) *Reaper {
	return &Reaper{svc: svc, ttl: ttl}
}

// Check runs one sweep and returns how many rooms were removed.
func (r *Reaper) Check() int {
	reaped := r.svc.ReapIdle(r.ttl)
	for _, room := range reaped {
		log.Infof("%s Reaped room %s (idle %v)", logcolors.LogReaper, room.ID, room.Idle.Round(time.Second))
		notifier.PublishRoomReaped(room.ID, room.Idle)
	}
	return len(reaped)
}

// Start sweeps immediately, then every interval in the background. The
// returned function stops the reaper.
func (r *Reaper) Start(interval time.Duration) func() {
	r.Check()

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Check()
			case <-stop:
				return
			}
		}
	}()
	log.Infof("%s Reaper started (TTL: %v, interval: %v)", logcolors.LogReaper, r.ttl, interval)
	return func() { close(stop) }
}
