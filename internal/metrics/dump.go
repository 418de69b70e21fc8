package metrics

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// DumpSnapshot writes a final snapshot of all registered metrics to path
// in the Prometheus text exposition format. Called on exit so a scraper
// that missed the last interval still gets the end-of-run values.
func DumpSnapshot(path string) error {
	return dumpSnapshot(path, prometheus.DefaultGatherer)
}

func dumpSnapshot(path string, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()

	if err := encodeFamilies(f, families); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	return f.Sync()
}

// encodeFamilies writes metric families in text exposition format.
func encodeFamilies(w io.Writer, families []*dto.MetricFamily) error {
	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
