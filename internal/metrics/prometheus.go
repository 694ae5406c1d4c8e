package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

const metricName = "broadcast_events_total"

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// WritePrometheus renders every counter as one series of a single metric
// with an `event` label, in the Prometheus text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) error {
	snap := m.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if _, err := fmt.Fprintf(w, "# HELP %s Negotiation engine event counters.\n", metricName); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", metricName); err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", metricName, labelEscaper.Replace(k), snap[k]); err != nil {
			return err
		}
	}
	return nil
}
