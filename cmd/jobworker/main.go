// Command jobworker is the worker process spawned by the pool.
// It connects back to its control socket, serves one job at a time,
// and exits when the parent closes the connection or the job's
// in-process timeout fires SIGABRT.
package main

import (
	"github.com/cuemby/jobsubstrate/internal/handlers"
	"github.com/cuemby/jobsubstrate/pkg/workerproc"
)

func main() {
	workerproc.Main(handlers.Default())
}
