// Package telemetry registers the process-wide prometheus collector
// reporting store-level statistics and query-compiler performance.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/jzelinskie/cobrautil"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/authzed/hashgraph/internal/query"
)

// quantileProvider is implemented by query.Compiler; kept narrow so
// RegisterCollector can accept any engine's compiler without importing
// concrete engine packages.
type quantileProvider interface {
	CompileLatencyQuantile(q float64) float64
}

// Registry is the process-wide prometheus registry every collector in the
// store registers against.
var Registry = prometheus.NewRegistry()

var compileHistLabels = []string{"cache"}

// Statistics is the snapshot of store-level counts the collector reports.
// Engines (memory, postgres) implement StatisticsProvider to supply it.
type Statistics struct {
	UniqueId          string
	EntityCount       int
	OntologyTypeCount int
}

// StatisticsProvider is the smallest interface the collector needs from a
// running store engine — deliberately decoupled from the full EntityStore/
// OntologyStore contracts (spec §5 "the store exposes no explicit
// timeouts"; the same narrow-interface discipline applies to telemetry).
type StatisticsProvider interface {
	Statistics(ctx context.Context) (Statistics, error)
}

// RegisterCollector registers a collector reporting engine-level
// statistics and query-compiler performance for the given engine.
// compiler may be nil (the memory engine has none); when non-nil its p99
// compile latency is reported as a gauge alongside the histogram.
func RegisterCollector(engineName string, provider StatisticsProvider, compiler quantileProvider) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nodeId, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("telemetry: unable to get hostname: %w", err)
	}

	stats, err := provider.Statistics(ctx)
	if err != nil {
		return fmt.Errorf("telemetry: unable to query store statistics: %w", err)
	}

	return Registry.Register(&collector{
		provider: provider,
		compiler: compiler,
		infoDesc: prometheus.NewDesc(
			prometheus.BuildFQName("hashgraph", "telemetry", "info"),
			"Information about the running store instance.",
			nil,
			prometheus.Labels{
				"unique_id": stats.UniqueId,
				"node_id":   nodeId,
				"version":   cobrautil.Version,
				"os":        runtime.GOOS,
				"arch":      runtime.GOARCH,
				"vcpu":      fmt.Sprintf("%d", runtime.NumCPU()),
				"engine":    engineName,
			},
		),
		entityCountDesc: prometheus.NewDesc(
			prometheus.BuildFQName("hashgraph", "telemetry", "entities_total"),
			"Count of entities currently stored.",
			nil,
			prometheus.Labels{"unique_id": stats.UniqueId, "node_id": nodeId},
		),
		ontologyCountDesc: prometheus.NewDesc(
			prometheus.BuildFQName("hashgraph", "telemetry", "ontology_types_total"),
			"Count of ontology type editions (data, property, entity types).",
			nil,
			prometheus.Labels{"unique_id": stats.UniqueId, "node_id": nodeId},
		),
		compileDesc: prometheus.NewDesc(
			prometheus.BuildFQName("hashgraph", "telemetry", "query_compile_seconds"),
			"Histogram of query compilation time, by plan cache outcome.",
			compileHistLabels,
			prometheus.Labels{"unique_id": stats.UniqueId, "node_id": nodeId},
		),
		compileP99Desc: prometheus.NewDesc(
			prometheus.BuildFQName("hashgraph", "telemetry", "query_compile_p99_seconds"),
			"t-digest estimate of the 99th percentile query compilation time.",
			nil,
			prometheus.Labels{"unique_id": stats.UniqueId, "node_id": nodeId},
		),
	})
}

type collector struct {
	provider          StatisticsProvider
	compiler          quantileProvider
	infoDesc          *prometheus.Desc
	entityCountDesc   *prometheus.Desc
	ontologyCountDesc *prometheus.Desc
	compileDesc       *prometheus.Desc
	compileP99Desc    *prometheus.Desc
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.infoDesc
	ch <- c.entityCountDesc
	ch <- c.ontologyCountDesc
	ch <- c.compileDesc
	ch <- c.compileP99Desc
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	stats, err := c.provider.Statistics(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("unable to collect store statistics")
	}

	ch <- prometheus.MustNewConstMetric(c.infoDesc, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.entityCountDesc, prometheus.GaugeValue, float64(stats.EntityCount))
	ch <- prometheus.MustNewConstMetric(c.ontologyCountDesc, prometheus.GaugeValue, float64(stats.OntologyTypeCount))

	compileMetrics := make(chan prometheus.Metric)
	g := errgroup.Group{}
	g.Go(func() error {
		for metric := range compileMetrics {
			var m dto.Metric
			if err := metric.Write(&m); err != nil {
				return fmt.Errorf("telemetry: error writing metric: %w", err)
			}

			buckets := make(map[float64]uint64, len(m.Histogram.Bucket))
			for _, bucket := range m.Histogram.Bucket {
				buckets[*bucket.UpperBound] = *bucket.CumulativeCount
			}

			labels := make([]string, len(compileHistLabels))
			for i, labelName := range compileHistLabels {
				for _, labelVal := range m.Label {
					if *labelVal.Name == labelName {
						labels[i] = *labelVal.Value
					}
				}
			}
			ch <- prometheus.MustNewConstHistogram(
				c.compileDesc,
				*m.Histogram.SampleCount,
				*m.Histogram.SampleSum,
				buckets,
				labels...,
			)
		}
		return nil
	})

	query.CompileLatencyHistogram.Collect(compileMetrics)
	close(compileMetrics)

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("error collecting query compile metrics")
	}

	if c.compiler != nil {
		ch <- prometheus.MustNewConstMetric(c.compileP99Desc, prometheus.GaugeValue, c.compiler.CompileLatencyQuantile(0.99))
	}
}
