package picker

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/blockshot/picker/internal/sink"
)

// Sink is the output interface for exported images.
type Sink = sink.Sink

// SaveFunc is called for each exported image.
type SaveFunc = sink.SaveFunc

// NewDirSink writes PNG files into dir, creating it if needed.
func NewDirSink(dir string) (Sink, error) {
	return sink.NewDir(dir)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewStdoutSink writes one JSON line of metadata per export.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(fn SaveFunc) Sink {
	return sink.NewCallback(fn)
}

// SinksFromConfig builds the sinks listed in cfg.Sinks.
func SinksFromConfig(cfg *Config, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for i, sc := range cfg.Sinks {
		switch sc.Type {
		case "dir":
			s, err := NewDirSink(sc.Dir)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		case "webhook":
			out = append(out, NewWebhookSink(sc.URL, logger))
		case "stdout":
			out = append(out, NewStdoutSink(os.Stdout))
		default:
			return nil, fmt.Errorf("picker: sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	return out, nil
}
