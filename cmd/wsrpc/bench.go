package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"perun.network/go-perun/log"

	"github.com/perun-network/perun-wsrpc/internal/metrics"
	"github.com/perun-network/perun-wsrpc/internal/rpc"
)

var (
	benchCalls       int
	benchConcurrency int
)

var benchCmd = &cobra.Command{
	Use:   "bench <method> [json-argument]",
	Short: "Issue many concurrent calls over one connection",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if benchCalls <= 0 || benchConcurrency <= 0 {
			return errors.New("-n and -c must be positive")
		}
		arg, err := parseArg(args)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		client, err := connect(cmd.Context(), rpc.WithMetrics(metrics.NewClient(reg)))
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Warnf("closing client: %v", err)
			}
		}()

		start := time.Now()
		failed := bench(client, args[0], arg)
		elapsed := time.Since(start)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d calls in %v (%.1f calls/s), %d failed\n",
			benchCalls, elapsed.Round(time.Millisecond), float64(benchCalls)/elapsed.Seconds(), failed)
		return printMetrics(out, reg)
	},
}

func init() {
	benchCmd.Flags().IntVarP(&benchCalls, "calls", "n", 1000, "total number of calls")
	benchCmd.Flags().IntVarP(&benchConcurrency, "concurrency", "c", 10, "number of calls in flight")
}

// bench runs benchCalls calls with at most benchConcurrency in flight and
// returns the number of failed calls.
func bench(client *rpc.Client, method string, arg interface{}) int {
	jobs := make(chan struct{})
	var (
		wg     sync.WaitGroup
		mtx    sync.Mutex
		failed int
	)
	for i := 0; i < benchConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				call := <-client.Go(method, arg).Done
				if call.Error != nil {
					log.WithError(call.Error).Debug("call failed")
					mtx.Lock()
					failed++
					mtx.Unlock()
				}
			}
		}()
	}
	for i := 0; i < benchCalls; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()
	return failed
}

// printMetrics writes the gathered client metrics as one line per series.
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			fmt.Fprintf(w, "%s%s %s\n", mf.GetName(), formatLabels(m.GetLabel()), formatValue(mf.GetType(), m))
		}
	}
	return nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	labels := make([]string, 0, len(pairs))
	for _, p := range pairs {
		labels = append(labels, fmt.Sprintf("%s=%q", p.GetName(), p.GetValue()))
	}
	sort.Strings(labels)
	return "{" + strings.Join(labels, ",") + "}"
}

func formatValue(t dto.MetricType, m *dto.Metric) string {
	switch t {
	case dto.MetricType_COUNTER:
		return fmt.Sprint(m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return fmt.Sprint(m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		if h.GetSampleCount() == 0 {
			return "count=0"
		}
		mean := time.Duration(h.GetSampleSum() / float64(h.GetSampleCount()) * float64(time.Second))
		return fmt.Sprintf("count=%d mean=%v", h.GetSampleCount(), mean.Round(time.Microsecond))
	default:
		return "-"
	}
}
