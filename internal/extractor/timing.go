package extractor

import (
	"errors"
	"math"

	"github.com/tidwall/gjson"

	"github.com/torosent/quicperf/internal/measurement"
)

// timingScript returns the page's navigation entry as JSON, extended with
// firstPaint and firstContentfulPaint. Paint entries are matched by name
// since their order is not guaranteed.
const timingScript = `function() {
	var nav = performance.getEntriesByType("navigation");
	var paint = performance.getEntriesByType("paint");
	if (nav.length === 0) {
		return "{}";
	}
	var result = nav[0].toJSON();
	result.firstPaint = 0;
	result.firstContentfulPaint = 0;
	for (var i = 0; i < paint.length; i++) {
		var p = paint[i].toJSON();
		if (p.name === "first-paint") {
			result.firstPaint = p.startTime;
		} else if (p.name === "first-contentful-paint") {
			result.firstContentfulPaint = p.startTime;
		}
	}
	return JSON.stringify(result);
}`

var (
	errInvalidTimingJSON = errors.New("performance entry is not valid JSON")
	errNoNavigationEntry = errors.New("no navigation timing entry")
)

// parseTiming normalizes the JSON produced by timingScript.
func parseTiming(raw string) (measurement.Timing, error) {
	if !gjson.Valid(raw) {
		return measurement.Timing{}, errInvalidTimingJSON
	}
	doc := gjson.Parse(raw)
	if doc.Get("entryType").String() != "navigation" {
		return measurement.Timing{}, errNoNavigationEntry
	}

	return measurement.Timing{
		ConnectEnd:                 millis(doc, "connectEnd"),
		ConnectStart:               millis(doc, "connectStart"),
		DomComplete:                millis(doc, "domComplete"),
		DomContentLoadedEventEnd:   millis(doc, "domContentLoadedEventEnd"),
		DomContentLoadedEventStart: millis(doc, "domContentLoadedEventStart"),
		DomInteractive:             millis(doc, "domInteractive"),
		DomainLookupEnd:            millis(doc, "domainLookupEnd"),
		DomainLookupStart:          millis(doc, "domainLookupStart"),
		Duration:                   millis(doc, "duration"),
		EncodedBodySize:            size(doc, "encodedBodySize"),
		DecodedBodySize:            size(doc, "decodedBodySize"),
		TransferSize:               size(doc, "transferSize"),
		FetchStart:                 millis(doc, "fetchStart"),
		LoadEventEnd:               millis(doc, "loadEventEnd"),
		LoadEventStart:             millis(doc, "loadEventStart"),
		RequestStart:               millis(doc, "requestStart"),
		ResponseEnd:                millis(doc, "responseEnd"),
		ResponseStart:              millis(doc, "responseStart"),
		SecureConnectionStart:      millis(doc, "secureConnectionStart"),
		StartTime:                  millis(doc, "startTime"),
		FirstPaint:                 millis(doc, "firstPaint"),
		FirstContentfulPaint:       millis(doc, "firstContentfulPaint"),
		NextHopProtocol:            doc.Get("nextHopProtocol").String(),
	}, nil
}

// millis reads a timestamp. Missing, negative and non-finite values become 0.
func millis(doc gjson.Result, path string) float64 {
	v := doc.Get(path).Float()
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func size(doc gjson.Result, path string) int64 {
	v := doc.Get(path).Int()
	if v < 0 {
		return 0
	}
	return v
}
