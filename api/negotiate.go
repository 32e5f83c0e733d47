package api

import (
	"net/http"
	"strings"

	"annod/lib/engine"
)

// --------------------------------------------------------------------------
// Content Negotiation
// --------------------------------------------------------------------------

// negotiate picks an output format from the endpoint's capability table.
// Offers are listed in preference order; the first offer is the default when
// the request carries no Accept header. Media type parameters (";q=...") are
// ignored and "*/*" matches the most-preferred offer. No overlap fails with
// NotAcceptable before any store is touched.
func negotiate(r *http.Request, offers ...engine.Format) (engine.Format, error) {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return offers[0], nil
	}

	best := -1
	for _, acceptType := range strings.Split(accept, ",") {
		acceptType = strings.TrimSpace(acceptType)
		if i := strings.Index(acceptType, ";"); i >= 0 {
			acceptType = strings.TrimSpace(acceptType[:i])
		}
		for i, offer := range offers {
			if acceptType == offer.ContentType() || acceptType == "*/*" {
				if best == -1 || i < best {
					best = i
				}
			}
		}
	}
	if best == -1 {
		return 0, errNotAcceptable()
	}
	return offers[best], nil
}
