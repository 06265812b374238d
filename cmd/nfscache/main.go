// Command nfscache is a small demo front end over the nfscache library,
// exercising Set/Get/Delete/Exists/Clear/Stats against a cache directory.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/nfscache/nfscache"
	"github.com/nfscache/nfscache/telemetry"
)

type cli struct {
	Directory    string `help:"Cache root directory." default:"./nfscache-data" short:"d"`
	LogLevel     string `help:"debug, info, warn, or error." default:"info" enum:"debug,info,warn,error"`
	LogFormat    string `help:"text, json, or console (colorized)." default:"text" enum:"text,json,console"`
	Metrics      bool   `help:"Initialize OpenTelemetry metrics with a no-op exporter (or Prometheus, see --otlp-endpoint/--prometheus)."`
	Prometheus   bool   `help:"Enable the Prometheus exporter (implies --metrics); no HTTP listener is started." name:"prometheus"`
	OTLPEndpoint string `help:"OTLP gRPC endpoint for metrics export, e.g. localhost:4317 (implies --metrics)." name:"otlp-endpoint"`

	Set    setCmd    `cmd:"" help:"Store a key/value pair."`
	Get    getCmd    `cmd:"" help:"Fetch a key's value."`
	Exists existsCmd `cmd:"" help:"Check whether a key is present."`
	Delete deleteCmd `cmd:"" help:"Remove a key."`
	Clear  clearCmd  `cmd:"" help:"Remove every entry."`
	Stats  statsCmd  `cmd:"" help:"Print cache counters."`
}

type setCmd struct {
	Key   string        `arg:"" help:"Key."`
	Value string        `arg:"" help:"Value."`
	TTL   time.Duration `help:"Optional time-to-live, e.g. 30s, 5m. Zero means no expiry."`
}

func (c *setCmd) Run(cache *nfscache.Cache) error {
	var opts []nfscache.SetOption
	if c.TTL > 0 {
		opts = append(opts, nfscache.WithTTL(c.TTL))
	}
	return cache.Set([]byte(c.Key), []byte(c.Value), opts...)
}

type getCmd struct {
	Key string `arg:"" help:"Key."`
}

func (c *getCmd) Run(cache *nfscache.Cache) error {
	value, ok := cache.Get([]byte(c.Key))
	if !ok {
		return fmt.Errorf("key %q not found", c.Key)
	}
	fmt.Println(string(value))
	return nil
}

type existsCmd struct {
	Key string `arg:"" help:"Key."`
}

func (c *existsCmd) Run(cache *nfscache.Cache) error {
	fmt.Println(cache.Exists([]byte(c.Key)))
	return nil
}

type deleteCmd struct {
	Key string `arg:"" help:"Key."`
}

func (c *deleteCmd) Run(cache *nfscache.Cache) error {
	return cache.Delete([]byte(c.Key))
}

type clearCmd struct{}

func (c *clearCmd) Run(cache *nfscache.Cache) error {
	return cache.Clear()
}

type statsCmd struct{}

func (c *statsCmd) Run(cache *nfscache.Cache) error {
	s := cache.Stats()
	fmt.Printf("hits=%d misses=%d evictions=%d expired=%d total_bytes=%d count=%d hot_hits=%d hot_bytes=%d uptime=%s\n",
		s.Hits, s.Misses, s.Evictions, s.Expired, s.TotalBytes, s.EntryCount, s.HotHits, s.HotBytes,
		time.Duration(s.UptimeNanos))
	return nil
}

func main() {
	var c cli
	kctx := kong.Parse(&c, kong.Name("nfscache"), kong.Description("Embeddable key-value cache, demo CLI."))

	logger := newLogger(c.LogLevel, c.LogFormat)
	slog.SetDefault(logger)

	if c.Metrics || c.Prometheus || c.OTLPEndpoint != "" {
		shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName:      "nfscache",
			OTLPEndpoint:     c.OTLPEndpoint,
			EnablePrometheus: c.Prometheus,
		})
		kctx.FatalIfErrorf(err)
		defer shutdown(context.Background())
	}

	cfg := nfscache.DefaultConfig(c.Directory)
	cfg.Logger = logger

	cache, err := nfscache.Open(cfg)
	kctx.FatalIfErrorf(err)
	defer cache.Close()

	err = kctx.Run(cache)
	kctx.FatalIfErrorf(err)
}

func newLogger(levelName, format string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case "console":
		handler = nfscache.NewConsoleHandler(os.Stderr, level)
	default:
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
