// Command pageserver serves a small test page and can stand in for the QUIC
// proxy's qlog writer, for exercising quicperf locally.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

type serverMode string

const (
	modeHTTP serverMode = "http"
	modeQLog serverMode = "qlog"
)

const indexPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>quicperf test page</title>
<link rel="stylesheet" href="/static/style.css">
</head>
<body>
<h1>quicperf test page</h1>
<p>Static content for page load measurements.</p>
<img src="/static/pixel.svg" alt="">
<script src="/static/app.js"></script>
</body>
</html>
`

var assets = map[string]struct {
	contentType string
	body        string
}{
	"/static/style.css": {"text/css", "body { font-family: sans-serif; margin: 2em; }\n"},
	"/static/app.js":    {"application/javascript", "document.body.dataset.loaded = 'true';\n"},
	"/static/pixel.svg": {"image/svg+xml", `<svg xmlns="http://www.w3.org/2000/svg" width="1" height="1"/>` + "\n"},
}

func main() {
	mode := flag.String("mode", "", "Server mode: http, qlog")
	port := flag.Int("port", 0, "Listening port (http mode)")
	delay := flag.Duration("delay", 0, "Artificial delay before each response (http mode)")
	qlogPath := flag.String("qlog-path", "/tmp/qlog/proxy.qlog", "qlog artifact to append to (qlog mode)")
	interval := flag.Duration("interval", time.Second, "Event interval (qlog mode)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch serverMode(*mode) {
	case modeHTTP:
		if *port <= 0 {
			log.Fatalf("port must be > 0")
		}
		log.Fatal(runHTTPServer(*port, *delay))
	case modeQLog:
		if err := runQLogWriter(ctx, *qlogPath, *interval); err != nil && ctx.Err() == nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

func newPageHandler(delay time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/static/", func(w http.ResponseWriter, r *http.Request) {
		asset, ok := assets[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", asset.contentType)
		w.Header().Set("Cache-Control", "max-age=3600")
		fmt.Fprint(w, asset.body)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/index.html" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexPage)
	})
	if delay <= 0 {
		return mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func runHTTPServer(port int, delay time.Duration) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("test page server listening on %s", addr)
	return http.ListenAndServe(addr, newPageHandler(delay))
}

type qlogEvent struct {
	Time float64        `json:"time"`
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

// appendEvent writes one JSON-SEQ record while holding <path>.lock, the lock
// quicperf takes before truncating the artifact.
func appendEvent(ctx context.Context, path string, ev qlogEvent) error {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("lock %s not acquired", path)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = f.Write(append(append([]byte{0x1e}, line...), '\n'))
	return err
}

func runQLogWriter(ctx context.Context, path string, interval time.Duration) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("qlog path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("appending qlog events to %s every %s", path, interval)
	for seq := 0; ; seq++ {
		ev := qlogEvent{
			Time: float64(time.Since(start).Microseconds()) / 1000,
			Name: "transport:packet_sent",
			Data: map[string]any{"header": map[string]any{"packet_type": "1RTT", "packet_number": seq}},
		}
		if err := appendEvent(ctx, path, ev); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
