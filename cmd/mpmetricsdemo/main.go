// Command mpmetricsdemo exercises the fork/exec handoff spec.md §3.2
// describes: a parent process creates a shared arena and a handful of
// metrics, re-execs itself N times passing the arena's fd through
// exec.Cmd.ExtraFiles, each child independently reopens the same
// metrics by name and records a few observations, and the parent then
// gathers the aggregate result — all without any IPC beyond the
// inherited fd.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gosuda.org/mpmetrics"
	"gosuda.org/mpmetrics/internal/arena"
)

const (
	counterName   = "demo_requests_total"
	histogramName = "demo_request_duration_seconds"
	arenaFD       = 3 // first entry of exec.Cmd.ExtraFiles
)

func main() {
	child := flag.Bool("child", false, "run as a worker that reopens an inherited arena (internal)")
	workers := flag.Int("workers", 4, "number of child processes to fork")
	workerID := flag.String("worker-id", "", "worker identity label (internal, set by the parent)")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *child {
		runChild(logger, *workerID)
		return
	}
	runParent(logger, *workers)
}

func runParent(logger *zap.Logger, workers int) {
	a, err := arena.New(arena.Options{})
	if err != nil {
		logger.Fatal("create arena", zap.Error(err))
	}
	defer a.Close()

	registry := mpmetrics.NewRegistry(a)
	registry.SetLogger(logger)

	if _, err := mpmetrics.NewCounterVec(mpmetrics.CounterOpts{
		Name:     counterName,
		Help:     "Total requests handled, labeled by worker.",
		Registry: registry,
	}, []string{"worker"}); err != nil {
		logger.Fatal("declare counter", zap.Error(err))
	}
	if _, err := mpmetrics.NewHistogram(mpmetrics.HistogramOpts{
		Name:     histogramName,
		Help:     "Request latency across every worker.",
		Registry: registry,
	}); err != nil {
		logger.Fatal("declare histogram", zap.Error(err))
	}

	self, err := os.Executable()
	if err != nil {
		logger.Fatal("resolve executable", zap.Error(err))
	}

	for i := 0; i < workers; i++ {
		cmd := exec.Command(self, "-child", "-worker-id", strconv.Itoa(i))
		cmd.ExtraFiles = []*os.File{a.File()}
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			logger.Error("worker failed", zap.Int("worker", i), zap.Error(err))
		}
	}

	for _, fam := range registry.Gather() {
		fmt.Printf("# %s (%s) %s\n", fam.Name, fam.Type, fam.Help)
		for _, s := range fam.Samples {
			fmt.Printf("%s%s %v %v\n", fam.Name, s.Name[len(fam.Name):], formatLabels(s.Labels), s.Value)
		}
	}
}

func runChild(logger *zap.Logger, id string) {
	if id == "" {
		id = "?"
	}

	a, err := arena.Adopt(arenaFD, 0)
	if err != nil {
		logger.Fatal("adopt arena", zap.Error(err))
	}
	defer a.Close()

	registry := mpmetrics.NewRegistry(a)
	registry.SetLogger(logger)

	requests, err := mpmetrics.NewCounterVec(mpmetrics.CounterOpts{
		Name:     counterName,
		Help:     "Total requests handled, labeled by worker.",
		Registry: registry,
	}, []string{"worker"})
	if err != nil {
		logger.Fatal("reopen counter", zap.Error(err))
	}
	latency, err := mpmetrics.NewHistogram(mpmetrics.HistogramOpts{
		Name:     histogramName,
		Help:     "Request latency across every worker.",
		Registry: registry,
	})
	if err != nil {
		logger.Fatal("reopen histogram", zap.Error(err))
	}

	counter, err := requests.WithLabelValues(id)
	if err != nil {
		logger.Fatal("resolve worker counter", zap.Error(err))
	}

	n := 5 + rand.IntN(10)
	for i := 0; i < n; i++ {
		if err := counter.Inc(1, nil); err != nil {
			logger.Error("increment", zap.Error(err))
		}
		sample := rand.Float64() * 0.3
		ex := &mpmetrics.Exemplar{
			Labels:    map[string]string{"trace_id": uuid.NewString()},
			Value:     sample,
			Timestamp: time.Now(),
		}
		if err := latency.Observe(sample, ex); err != nil {
			logger.Error("observe", zap.Error(err))
		}
	}
	logger.Info("worker done", zap.String("worker", id), zap.Int("observations", n))
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	out := "{"
	first := true
	for k, v := range labels {
		if !first {
			out += ","
		}
		first = false
		out += k + "=" + strconv.Quote(v)
	}
	return out + "}"
}
