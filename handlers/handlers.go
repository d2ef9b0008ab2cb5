package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/lightcast/ingest-api/config"
	"github.com/lightcast/ingest-api/jobstore"
	"github.com/lightcast/ingest-api/pipeline"
	"github.com/lightcast/ingest-api/storage"
	"github.com/lightcast/ingest-api/transcode"
)

type IngestAPIHandlersCollection struct {
	Cli         config.Cli
	Coordinator *pipeline.Coordinator
	Jobs        jobstore.Store
	Storage     *storage.Storage
	Segmenter   *transcode.Segmenter
}

func (d *IngestAPIHandlersCollection) Healthz() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		_, _ = w.Write([]byte("ok"))
	}
}
