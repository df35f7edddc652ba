package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// ExportPrometheus renders every registered metric in the Prometheus
// text exposition format. Histograms and timers emit cumulative
// _bucket/_sum/_count series (including le="+Inf"), summaries emit
// quantile series plus _sum/_count.
func (r *Registry) ExportPrometheus() string {
	var b strings.Builder
	r.WritePrometheus(&b)
	return b.String()
}

// WritePrometheus streams the Prometheus text format to w.
func (r *Registry) WritePrometheus(w io.Writer) {
	for _, name := range r.Names() {
		r.mu.RLock()
		f := r.metrics[name]
		r.mu.RUnlock()
		if f == nil {
			continue
		}
		for _, s := range f.snapshot() {
			switch f.kind {
			case KindCounter, KindGauge:
				fmt.Fprintf(w, "%s%s %s\n", name, promLabels(f.labelNames, s.labelValues, "", ""), formatValue(s.value))
			case KindHistogram, KindTimer:
				for i, ub := range f.buckets {
					le := formatValue(ub)
					fmt.Fprintf(w, "%s_bucket%s %d\n", name, promLabels(f.labelNames, s.labelValues, "le", le), s.bucketCounts[i])
				}
				fmt.Fprintf(w, "%s_bucket%s %d\n", name, promLabels(f.labelNames, s.labelValues, "le", "+Inf"), s.count)
				fmt.Fprintf(w, "%s_sum%s %s\n", name, promLabels(f.labelNames, s.labelValues, "", ""), formatValue(s.sum))
				fmt.Fprintf(w, "%s_count%s %d\n", name, promLabels(f.labelNames, s.labelValues, "", ""), s.count)
			case KindSummary:
				quantiles := quantilesOf(s.window, DefaultQuantiles)
				qs := make([]float64, 0, len(quantiles))
				for q := range quantiles {
					qs = append(qs, q)
				}
				sort.Float64s(qs)
				for _, q := range qs {
					fmt.Fprintf(w, "%s%s %s\n", name, promLabels(f.labelNames, s.labelValues, "quantile", formatValue(q)), formatValue(quantiles[q]))
				}
				fmt.Fprintf(w, "%s_sum%s %s\n", name, promLabels(f.labelNames, s.labelValues, "", ""), formatValue(s.sum))
				fmt.Fprintf(w, "%s_count%s %d\n", name, promLabels(f.labelNames, s.labelValues, "", ""), s.count)
			}
		}
	}
}

// promLabels renders {k1="v1",...} with an optional extra pair, or the
// empty string when there are no labels at all.
func promLabels(names, values []string, extraName, extraValue string) string {
	if len(names) == 0 && extraName == "" {
		return ""
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, n := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(n)
		b.WriteString(`="`)
		b.WriteString(escapeLabelValue(values[i]))
		b.WriteByte('"')
	}
	if extraName != "" {
		if len(names) > 0 {
			b.WriteByte(',')
		}
		b.WriteString(extraName)
		b.WriteString(`="`)
		b.WriteString(escapeLabelValue(extraValue))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabelValue(v string) string { return labelEscaper.Replace(v) }

func formatValue(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// SeriesJSON is one series in the JSON export.
type SeriesJSON struct {
	Labels    map[string]string  `json:"labels"`
	Value     *float64           `json:"value,omitempty"`
	Count     *uint64            `json:"count,omitempty"`
	Sum       *float64           `json:"sum,omitempty"`
	Buckets   map[string]uint64  `json:"buckets,omitempty"`
	Quantiles map[string]float64 `json:"quantiles,omitempty"`
}

// MetricJSON is one metric family in the JSON export.
type MetricJSON struct {
	Kind   Kind         `json:"kind"`
	Labels []string     `json:"labels"`
	Series []SeriesJSON `json:"series"`
}

// ExportJSON returns the full registry as a name-keyed structure
// suitable for json.Marshal.
func (r *Registry) ExportJSON() map[string]MetricJSON {
	out := make(map[string]MetricJSON)
	for _, name := range r.Names() {
		r.mu.RLock()
		f := r.metrics[name]
		r.mu.RUnlock()
		if f == nil {
			continue
		}
		mj := MetricJSON{Kind: f.kind, Labels: append([]string{}, f.labelNames...), Series: []SeriesJSON{}}
		for _, s := range f.snapshot() {
			sj := SeriesJSON{Labels: labelMap(f.labelNames, s.labelValues)}
			switch f.kind {
			case KindCounter, KindGauge:
				v := s.value
				sj.Value = &v
			case KindHistogram, KindTimer:
				count, sum := s.count, s.sum
				sj.Count = &count
				sj.Sum = &sum
				sj.Buckets = make(map[string]uint64, len(f.buckets)+1)
				for i, ub := range f.buckets {
					sj.Buckets[formatValue(ub)] = s.bucketCounts[i]
				}
				sj.Buckets["+Inf"] = s.count
			case KindSummary:
				count, sum := s.count, s.sum
				sj.Count = &count
				sj.Sum = &sum
				sj.Quantiles = make(map[string]float64)
				for q, v := range quantilesOf(s.window, DefaultQuantiles) {
					sj.Quantiles[formatValue(q)] = v
				}
			}
			mj.Series = append(mj.Series, sj)
		}
		out[name] = mj
	}
	return out
}

func labelMap(names, values []string) map[string]string {
	m := make(map[string]string, len(names))
	for i, n := range names {
		m[n] = values[i]
	}
	return m
}

// ExportGraphite renders the registry in Graphite plaintext form:
// name.label1=v1.label2=v2 value timestamp. Histograms, timers and
// summaries emit .count and .sum paths.
func (r *Registry) ExportGraphite() string {
	ts := r.now().Unix()
	var b strings.Builder
	for _, name := range r.Names() {
		r.mu.RLock()
		f := r.metrics[name]
		r.mu.RUnlock()
		if f == nil {
			continue
		}
		for _, s := range f.snapshot() {
			path := name
			for i, ln := range f.labelNames {
				path += "." + ln + "=" + s.labelValues[i]
			}
			switch f.kind {
			case KindCounter, KindGauge:
				fmt.Fprintf(&b, "%s %s %d\n", path, formatValue(s.value), ts)
			default:
				fmt.Fprintf(&b, "%s.count %d %d\n", path, s.count, ts)
				fmt.Fprintf(&b, "%s.sum %s %d\n", path, formatValue(s.sum), ts)
			}
		}
	}
	return b.String()
}

// Handler serves the Prometheus text export over HTTP.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}
