package spotify

import (
	"context"
	"encoding/json"
	"net/http"

	"songpool-api-go/logcolors"
	"songpool-api-go/ratelimit"
	"songpool-api-go/upstream"

	log "github.com/sirupsen/logrus"
)

// collectPages walks a paged listing, following the envelope's next link
// until the API reports the end. The walker itself follows as many pages as
// the API offers; maxItems is the caller-imposed ceiling that stops runaway
// listings.
func (c *Client) collectPages(ctx context.Context, identity, token, firstURL string, prio ratelimit.Priority) ([]json.RawMessage, error) {
	var items []json.RawMessage

	pageURL := firstURL
	pages := 0
	for pageURL != "" {
		var pg page
		err := c.exec.Execute(ctx, upstream.Request{
			Method:   http.MethodGet,
			URL:      pageURL,
			Token:    token,
			Identity: identity,
			Priority: prio,
		}, &pg)
		if err != nil {
			return nil, err
		}
		pages++

		items = append(items, pg.Items...)
		if c.maxItems > 0 && len(items) >= c.maxItems {
			log.Warnf("%s Listing capped at %d items after %d pages (%s)",
				logcolors.LogPages, c.maxItems, pages, firstURL)
			items = items[:c.maxItems]
			break
		}

		if pg.Next == nil || *pg.Next == "" {
			break
		}
		pageURL = *pg.Next
	}

	log.Debugf("%s Collected %d items over %d pages for %s",
		logcolors.LogPages, len(items), pages, logcolors.Identity(identity))
	return items, nil
}
