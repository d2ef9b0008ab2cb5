package api

import (
	"context"
	"net/http"
	"os"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/julienschmidt/httprouter"
	"github.com/lightcast/ingest-api/config"
	"github.com/lightcast/ingest-api/handlers"
	"github.com/lightcast/ingest-api/log"
	"github.com/lightcast/ingest-api/middleware"
	"github.com/lightcast/ingest-api/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func ListenAndServe(ctx context.Context, cli config.Cli, engine *pipeline.Coordinator) error {
	router := NewIngestAPIRouter(cli, engine)
	server := http.Server{Addr: cli.ServerAddr, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoJobID(
		"Starting Ingest API!",
		"version", config.Version,
		"host", cli.ServerAddr,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewIngestAPIRouter(cli config.Cli, engine *pipeline.Coordinator) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest(kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr)))
	capacity := &middleware.CapacityMiddleware{}
	withCapacityChecking := func(next httprouter.Handle) httprouter.Handle {
		return capacity.HasCapacity(engine.Jobs, cli.MaxInFlightJobs, next)
	}

	ingestHandlers := &handlers.IngestAPIHandlersCollection{
		Cli:         cli,
		Coordinator: engine,
		Jobs:        engine.Jobs,
		Storage:     engine.Storage,
		Segmenter:   engine.Segmenter,
	}

	// Simple endpoint for healthchecks
	router.GET("/healthz", withLogging(ingestHandlers.Healthz()))

	// Submission endpoints
	router.POST("/upload/multipart", withLogging(withCapacityChecking(ingestHandlers.UploadMultipart())))
	router.POST("/upload/remote", withLogging(withCapacityChecking(ingestHandlers.UploadRemote())))
	router.POST("/download/yt-dlp", withLogging(withCapacityChecking(ingestHandlers.DownloadYtDlp())))

	// Job status
	router.GET("/jobs", withLogging(ingestHandlers.ListJobs()))
	router.GET("/jobs/:id", withLogging(ingestHandlers.JobStatus()))

	// Delivery; /videos/:id and /videos/:id/download are the same stream
	router.GET("/videos/:id", withLogging(ingestHandlers.DownloadVideo()))
	router.GET("/videos/:id/download", withLogging(ingestHandlers.DownloadVideo()))
	router.GET("/videos/:id/thumbnail", withLogging(ingestHandlers.Thumbnail()))
	router.GET("/videos/:id/hls/*path", withLogging(ingestHandlers.ServeHLS()))
	router.GET("/videos/:id/dash/*path", withLogging(ingestHandlers.ServeDASH()))

	router.Handler("GET", "/metrics", promhttp.Handler())

	return router
}
