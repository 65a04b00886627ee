package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/quicperf/internal/measurement"
)

// Report is the printable outcome of one run.
type Report struct {
	Measurement measurement.Measurement `json:"measurement" yaml:"measurement"`
	Duration    time.Duration           `json:"-" yaml:"-"`
	// QLog is empty when no diagnostic log was expected, "stored" on success
	// and the drain error otherwise.
	QLog string `json:"qlog,omitempty" yaml:"qlog,omitempty"`
}

type phase struct {
	label      string
	start, end float64
}

func phases(t measurement.Timing) []phase {
	return []phase{
		{"DNS", t.DomainLookupStart, t.DomainLookupEnd},
		{"Connect", t.ConnectStart, t.ConnectEnd},
		{"Request", t.RequestStart, t.ResponseStart},
		{"Response", t.ResponseStart, t.ResponseEnd},
		{"DOM processing", t.ResponseEnd, t.DomComplete},
		{"Load event", t.LoadEventStart, t.LoadEventEnd},
	}
}

// PrintReport outputs a human-readable summary of the measurement.
func PrintReport(w io.Writer, r Report) {
	m := r.Measurement
	fmt.Fprintln(w, "\n--- Page Load Measurement ---")
	fmt.Fprintf(w, "ID:                %s\n", m.ID)
	fmt.Fprintf(w, "Transport:         %s\n", m.Protocol)
	fmt.Fprintf(w, "Server:            %s\n", m.Server)
	fmt.Fprintf(w, "Domain:            %s\n", m.Domain)
	fmt.Fprintf(w, "Timestamp:         %s\n", m.Timestamp.Format(measurement.TimestampLayout))
	fmt.Fprintf(w, "Cache warming:     %d\n", m.CacheWarming)
	if r.Duration > 0 {
		fmt.Fprintf(w, "Run time:          %s\n", r.Duration.Round(time.Millisecond))
	}

	if m.Failed() {
		fmt.Fprintf(w, "\nError:             %s\n", m.Error)
		writeQLog(w, r.QLog)
		return
	}

	t := m.Timing
	fmt.Fprintf(w, "Protocol used:     %s\n", orNone(t.NextHopProtocol))
	fmt.Fprintln(w, "\nTiming (ms):")
	fmt.Fprintf(w, "  Duration:              %.2f\n", t.Duration)
	fmt.Fprintf(w, "  First paint:           %.2f\n", t.FirstPaint)
	fmt.Fprintf(w, "  First contentful:      %.2f\n", t.FirstContentfulPaint)
	fmt.Fprintf(w, "  DOM interactive:       %.2f\n", t.DomInteractive)
	fmt.Fprintf(w, "  DOM content loaded:    %.2f\n", t.DomContentLoadedEventEnd)
	fmt.Fprintf(w, "  Load event end:        %.2f\n", t.LoadEventEnd)

	fmt.Fprintln(w, "\nPhases (ms):")
	for _, p := range phases(t) {
		d := p.end - p.start
		if d < 0 {
			d = 0
		}
		fmt.Fprintf(w, "  %-22s %.2f\n", p.label+":", d)
	}

	fmt.Fprintln(w, "\nTransfer (bytes):")
	fmt.Fprintf(w, "  Transfer size:         %d\n", t.TransferSize)
	fmt.Fprintf(w, "  Encoded body:          %d\n", t.EncodedBodySize)
	fmt.Fprintf(w, "  Decoded body:          %d\n", t.DecodedBodySize)
	writeQLog(w, r.QLog)
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func writeQLog(w io.Writer, status string) {
	if status == "" {
		return
	}
	fmt.Fprintf(w, "\nqlog:              %s\n", status)
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
