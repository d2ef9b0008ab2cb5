package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/lightcast/ingest-api/errors"
	"github.com/lightcast/ingest-api/log"
)

// JobStatus returns the live snapshot for one job: stage, derived overall
// progress, elapsed time and the ETA estimate.
func (d *IngestAPIHandlersCollection) JobStatus() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		id, err := uuid.Parse(params.ByName("id"))
		if err != nil {
			errors.WriteHTTPBadRequest(w, "invalid job id", err)
			return
		}
		snap, ok := d.Jobs.Status(id)
		if !ok {
			errors.WriteHTTPNotFound(w, "no such job", nil)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			log.LogError(id.String(), "failed to write job status", err)
		}
	}
}

// ListJobs returns a snapshot of every known job, in-flight and terminal.
func (d *IngestAPIHandlersCollection) ListJobs() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d.Jobs.List()); err != nil {
			log.LogNoJobID("failed to write job list", "error", err)
		}
	}
}
