package workerproc

import (
	"flag"
	"os"

	"github.com/cuemby/jobsubstrate/pkg/joblog"
	"github.com/cuemby/jobsubstrate/pkg/registry"
	"github.com/cuemby/jobsubstrate/pkg/statusstore"
)

// Main is the entrypoint shared by cmd/jobworker. It is factored out
// of cmd/ so that an embedder can link a custom handler registry into
// its own worker binary without depending on cmd/jobworker's main
// package.
func Main(reg *registry.Registry) {
	controlSocket := flag.String("control-socket", "", "path to the control socket opened by the worker pool")
	flag.Parse()

	if *controlSocket == "" {
		joblog.Logger.Fatal().Msg("-control-socket is required")
	}

	joblog.Init(joblog.Config{Level: joblog.Level(envOr("JOBSUBSTRATE_LOG_LEVEL", "info"))})

	backend := envOr("JOBSUBSTRATE_STATUS_BACKEND", "memory")
	dataDir := envOr("JOBSUBSTRATE_DATA_DIR", ".")

	store, err := statusstore.Open(backend, dataDir)
	if err != nil {
		joblog.Logger.Fatal().Err(err).Msg("failed to open status store")
	}
	defer store.Close()

	if err := store.InitSession(); err != nil {
		joblog.Logger.Fatal().Err(err).Msg("failed to init status store session")
	}

	w, err := New(Options{
		ControlSocket:  *controlSocket,
		Registry:       reg,
		Store:          store,
		SupervisorAddr: os.Getenv("JOBSUBSTRATE_SUPERVISOR_ADDR"),
	})
	if err != nil {
		joblog.Logger.Fatal().Err(err).Msg("failed to start worker")
	}

	w.Serve()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
