// Package logging configures the gateway's structured logger: colorized
// output via tint, with worker-name prefixing so interleaved output from
// the dispatcher, watchdog, RPC router, and connectors stays readable.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// workerPrefixHandler tags each record with the emitting worker's name,
// taken from a "worker" attribute (set via slog.With("worker", name)).
type workerPrefixHandler struct {
	handler slog.Handler
	worker  string
}

func (h *workerPrefixHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *workerPrefixHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	worker := h.worker
	var otherAttrs []slog.Attr

	for _, attr := range attrs {
		if attr.Key == "worker" {
			worker = attr.Value.String()
		} else {
			otherAttrs = append(otherAttrs, attr)
		}
	}

	return &workerPrefixHandler{
		handler: h.handler.WithAttrs(otherAttrs),
		worker:  worker,
	}
}

func (h *workerPrefixHandler) WithGroup(name string) slog.Handler {
	return &workerPrefixHandler{
		handler: h.handler.WithGroup(name),
		worker:  h.worker,
	}
}

func (h *workerPrefixHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.worker != "" {
		newRecord := slog.NewRecord(r.Time, r.Level, "["+h.worker+"] "+r.Message, r.PC)
		r.Attrs(func(a slog.Attr) bool {
			newRecord.AddAttrs(a)
			return true
		})
		return h.handler.Handle(ctx, newRecord)
	}
	return h.handler.Handle(ctx, r)
}

// Options controls the default logger built by Init.
type Options struct {
	Level   slog.Level
	NoColor bool
}

// Init installs the gateway's default slog logger. Call it once, before
// any worker starts logging; cmd/gwcore's run subcommand calls it once
// the config (and its logging section) is loaded.
func Init(opts Options) {
	handler := &workerPrefixHandler{
		handler: tint.NewHandler(os.Stderr, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.Kitchen,
			NoColor:    opts.NoColor || os.Getenv("NO_COLOR") != "",
		}),
	}
	slog.SetDefault(slog.New(handler))
}

func init() {
	// Sane default so packages that log during early init (before main
	// parses flags and calls Init) don't panic on a nil default logger.
	Init(Options{Level: slog.LevelInfo})
}

// RemoteSink accepts buffered log records for forwarding to the
// platform (its own pseudo-device telemetry channel), the way the
// gateway surfaces its own error reports upstream.
type RemoteSink interface {
	FlushLogs(ctx context.Context) error
}

var remoteSink RemoteSink

// SetRemoteSink wires the platform-facing log forwarder. Until it is
// set, FlushRemote is a no-op — there's nothing queued to send.
func SetRemoteSink(s RemoteSink) { remoteSink = s }

// FlushRemote asks the installed remote sink to deliver any
// platform-side error reports it has queued (spec §4.7's 1s Watchdog
// tick). Safe to call with no sink installed.
func FlushRemote(ctx context.Context) {
	if remoteSink == nil {
		return
	}
	if err := remoteSink.FlushLogs(ctx); err != nil {
		slog.Warn("logging: remote flush failed", "error", err)
	}
}
