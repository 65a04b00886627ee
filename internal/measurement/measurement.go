// Package measurement defines the page-load record persisted by quicperf and
// the ordered column descriptor every store serializes it with.
package measurement

import (
	"strconv"
	"time"
)

// Protocol is the transport a page load was forced onto.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolQUIC  Protocol = "quic"
)

// Valid reports whether p is one of the supported transports.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolHTTP, ProtocolHTTPS, ProtocolQUIC:
		return true
	default:
		return false
	}
}

// TimestampLayout is the text layout used when a timestamp is written to a
// text column.
const TimestampLayout = time.RFC3339Nano

// Timing holds the navigation and paint timing values of one page load.
// Times are milliseconds relative to navigation start, sizes are bytes.
type Timing struct {
	ConnectEnd                 float64 `json:"connectEnd" yaml:"connectEnd"`
	ConnectStart               float64 `json:"connectStart" yaml:"connectStart"`
	DomComplete                float64 `json:"domComplete" yaml:"domComplete"`
	DomContentLoadedEventEnd   float64 `json:"domContentLoadedEventEnd" yaml:"domContentLoadedEventEnd"`
	DomContentLoadedEventStart float64 `json:"domContentLoadedEventStart" yaml:"domContentLoadedEventStart"`
	DomInteractive             float64 `json:"domInteractive" yaml:"domInteractive"`
	DomainLookupEnd            float64 `json:"domainLookupEnd" yaml:"domainLookupEnd"`
	DomainLookupStart          float64 `json:"domainLookupStart" yaml:"domainLookupStart"`
	Duration                   float64 `json:"duration" yaml:"duration"`
	EncodedBodySize            int64   `json:"encodedBodySize" yaml:"encodedBodySize"`
	DecodedBodySize            int64   `json:"decodedBodySize" yaml:"decodedBodySize"`
	TransferSize               int64   `json:"transferSize" yaml:"transferSize"`
	FetchStart                 float64 `json:"fetchStart" yaml:"fetchStart"`
	LoadEventEnd               float64 `json:"loadEventEnd" yaml:"loadEventEnd"`
	LoadEventStart             float64 `json:"loadEventStart" yaml:"loadEventStart"`
	RequestStart               float64 `json:"requestStart" yaml:"requestStart"`
	ResponseEnd                float64 `json:"responseEnd" yaml:"responseEnd"`
	ResponseStart              float64 `json:"responseStart" yaml:"responseStart"`
	SecureConnectionStart      float64 `json:"secureConnectionStart" yaml:"secureConnectionStart"`
	StartTime                  float64 `json:"startTime" yaml:"startTime"`
	FirstPaint                 float64 `json:"firstPaint" yaml:"firstPaint"`
	FirstContentfulPaint       float64 `json:"firstContentfulPaint" yaml:"firstContentfulPaint"`
	NextHopProtocol            string  `json:"nextHopProtocol" yaml:"nextHopProtocol"`
}

// Measurement is one page-load attempt. A failed attempt carries a zero
// Timing and a non-empty Error.
type Measurement struct {
	ID           string    `json:"id" yaml:"id"`
	Protocol     Protocol  `json:"protocol" yaml:"protocol"`
	Server       string    `json:"server" yaml:"server"`
	Domain       string    `json:"domain" yaml:"domain"`
	Timestamp    time.Time `json:"timestamp" yaml:"timestamp"`
	Timing       Timing    `json:"timing" yaml:"timing"`
	CacheWarming int       `json:"cacheWarming" yaml:"cacheWarming"`
	Error        string    `json:"error" yaml:"error"`
}

// Failed reports whether the page load did not complete.
func (m Measurement) Failed() bool {
	return m.Error != ""
}

// DiagnosticLog is a qlog captured by the proxy during a QUIC page load.
type DiagnosticLog struct {
	MeasurementID string
	Log           string
}

// timingColumns lists the Timing fields in declared order.
var timingColumns = []string{
	"connectEnd",
	"connectStart",
	"domComplete",
	"domContentLoadedEventEnd",
	"domContentLoadedEventStart",
	"domInteractive",
	"domainLookupEnd",
	"domainLookupStart",
	"duration",
	"encodedBodySize",
	"decodedBodySize",
	"transferSize",
	"fetchStart",
	"loadEventEnd",
	"loadEventStart",
	"requestStart",
	"responseEnd",
	"responseStart",
	"secureConnectionStart",
	"startTime",
	"firstPaint",
	"firstContentfulPaint",
	"nextHopProtocol",
}

// Columns returns the ordered column names of a Measurement. Values returns
// data in the same order.
func Columns() []string {
	cols := make([]string, 0, 7+len(timingColumns))
	cols = append(cols, "id", "protocol", "server", "domain", "timestamp")
	cols = append(cols, timingColumns...)
	cols = append(cols, "cacheWarming", "error")
	return cols
}

// TimingColumns returns the ordered column names of the Timing fields.
func TimingColumns() []string {
	return append([]string(nil), timingColumns...)
}

// Values returns the measurement's values in Columns order.
func (m Measurement) Values() []any {
	t := m.Timing
	return []any{
		m.ID,
		string(m.Protocol),
		m.Server,
		m.Domain,
		m.Timestamp.Format(TimestampLayout),
		t.ConnectEnd,
		t.ConnectStart,
		t.DomComplete,
		t.DomContentLoadedEventEnd,
		t.DomContentLoadedEventStart,
		t.DomInteractive,
		t.DomainLookupEnd,
		t.DomainLookupStart,
		t.Duration,
		t.EncodedBodySize,
		t.DecodedBodySize,
		t.TransferSize,
		t.FetchStart,
		t.LoadEventEnd,
		t.LoadEventStart,
		t.RequestStart,
		t.ResponseEnd,
		t.ResponseStart,
		t.SecureConnectionStart,
		t.StartTime,
		t.FirstPaint,
		t.FirstContentfulPaint,
		t.NextHopProtocol,
		m.CacheWarming,
		m.Error,
	}
}

// Strings returns Values formatted for a text row.
func (m Measurement) Strings() []string {
	vals := m.Values()
	out := make([]string, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case string:
			out[i] = x
		case float64:
			out[i] = strconv.FormatFloat(x, 'f', -1, 64)
		case int64:
			out[i] = strconv.FormatInt(x, 10)
		case int:
			out[i] = strconv.Itoa(x)
		}
	}
	return out
}
