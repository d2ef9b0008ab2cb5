package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/lightcast/ingest-api/api"
	"github.com/lightcast/ingest-api/cleanup"
	"github.com/lightcast/ingest-api/config"
	"github.com/lightcast/ingest-api/jobstore"
	"github.com/lightcast/ingest-api/pipeline"
	"github.com/lightcast/ingest-api/storage"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	fs := flag.NewFlagSet("ingest-api", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	config.AddrFlag(fs, &cli.ServerAddr, "server-addr", "0.0.0.0:3000", "Address to bind the HTTP API to")
	fs.StringVar(&cli.StorageDir, "storage-dir", "data", "Root directory for progressive outputs and posters")
	fs.Uint64Var(&cli.MinFreeBytes, "storage-min-free-bytes", config.DefaultMinFreeBytes, "Minimum free bytes on the storage volume before derived artifacts are pruned")
	fs.Float64Var(&cli.MinFreeRatio, "storage-min-free-ratio", config.DefaultMinFreeRatio, "Minimum free/total ratio on the storage volume before derived artifacts are pruned")
	fs.IntVar(&cli.CleanupBatch, "storage-cleanup-batch", config.DefaultCleanupBatch, "Maximum number of jobs pruned per cleanup pass")
	fs.StringVar(&cli.Encoder, "server-encoder", "", "Preferred AV1 encoder backend (videotoolbox|nvenc|qsv|vaapi|software); empty picks per-OS defaults with software fallback")
	fs.StringVar(&cli.VAAPIDevice, "vaapi-device", "", "DRM render node to use for VAAPI encodes")
	fs.UintVar(&cli.DefaultQuality, "default-quality", config.DefaultQuality, "Default CRF / quality level for transcodes")
	fs.UintVar(&cli.DefaultCPUUsed, "default-cpu-used", config.DefaultCPUUsed, "Default libaom cpu-used preset for software encodes")
	fs.IntVar(&cli.MaxInFlightJobs, "max-inflight-jobs", 0, "Maximum number of concurrent ingest jobs; 0 disables the limit")
	fs.Int64Var(&cli.MaxUploadSizeBytes, "max-upload-size-bytes", 0, "Maximum accepted multipart body size; 0 disables the limit")
	_ = fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("VIDEO"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	err = flag.CommandLine.Parse(nil)
	if err != nil {
		glog.Fatal(err)
	}

	if *version {
		fmt.Printf("ingest-api version: %s\n", config.Version)
		return
	}

	cli.Sanitize()

	st := storage.New(cli.StorageDir)
	if err := st.Init(); err != nil {
		glog.Fatalf("error initializing storage tree at %s: %s", cli.StorageDir, err)
	}

	store := jobstore.NewLocalStore()
	cleanupEngine := cleanup.NewEngine(cleanup.Config{
		MinFreeBytes: cli.MinFreeBytes,
		MinFreeRatio: cli.MinFreeRatio,
		MaxBatch:     cli.CleanupBatch,
	}, store, st)
	engine := pipeline.NewCoordinator(cli, store, st, cleanupEngine)

	// Initialize root context; cancelling this prompts all components to shut down cleanly
	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli, engine)
	})

	err = group.Wait()
	glog.Infof("Shutdown complete. Reason for shutdown: %s", err)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
