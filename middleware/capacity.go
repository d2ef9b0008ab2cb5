package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/julienschmidt/httprouter"
	"github.com/lightcast/ingest-api/jobstore"
	"github.com/lightcast/ingest-api/metrics"
)

// CapacityMiddleware rejects new submissions once the node carries its
// configured share of in-flight jobs. Requests that are past the handler but
// not yet in the store are counted through ingestRequestsInFlight so a burst
// cannot slip under the limit.
type CapacityMiddleware struct {
	ingestRequestsInFlight atomic.Int64
}

func (c *CapacityMiddleware) HasCapacity(store jobstore.Store, maxInFlight int, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		metrics.Metrics.HTTPRequestsInFlight.Add(1)
		defer metrics.Metrics.HTTPRequestsInFlight.Add(-1)

		if maxInFlight <= 0 {
			next(w, r, ps)
			return
		}

		inFlightReqs := c.ingestRequestsInFlight.Add(1)
		defer c.ingestRequestsInFlight.Add(-1)

		if store.ActiveCount()+int(inFlightReqs-1) >= maxInFlight {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		next(w, r, ps)
	}
}
