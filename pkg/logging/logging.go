// Package logging configures the process-wide zap logger. File outputs
// rotate in place and keep a bounded number of old logs, so long-running
// replication loops do not fill the disk.
package logging

import (
	"context"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golift.io/rotatorr"
	"golift.io/rotatorr/timerotator"
)

const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"

	// DefaultFileName is the log file created under the configured log
	// directory.
	DefaultFileName = "cognite-replicator.log"

	rotatedFileCount = 7
	maxFileSize      = 1024 * 1024 * 10
)

type Option func(*zap.Config)

func WithLogLevel(level string) Option {
	return func(c *zap.Config) {
		ll := zapcore.InfoLevel
		_ = ll.Set(level)
		c.Level.SetLevel(ll)
	}
}

func WithLogFormat(format string) Option {
	return func(c *zap.Config) {
		switch format {
		case LogFormatJSON, LogFormatConsole:
			c.Encoding = format
		default:
			c.Encoding = LogFormatConsole
		}
	}
}

// WithLogDir adds a rotating log file under dir next to the stdout
// output. An empty dir leaves the logger on stdout alone.
func WithLogDir(dir string) Option {
	return func(c *zap.Config) {
		paths := []string{"stdout"}
		if dir != "" {
			u := &url.URL{Scheme: rotatingScheme, Path: filepath.Join(dir, DefaultFileName)}
			paths = append(paths, u.String())
		}
		c.OutputPaths = paths
	}
}

const rotatingScheme = "rotating"

type zapSink struct {
	*rotatorr.Logger
}

func (z *zapSink) Sync() error {
	return nil
}

type pathRegistry struct {
	sync.Map
}

func (p *pathRegistry) Register(path string) (zap.Sink, error) {
	if sink, ok := p.Load(path); ok {
		return sink.(zap.Sink), nil
	}

	rr, err := rotatorr.New(&rotatorr.Config{
		FileSize: maxFileSize,
		Filepath: path,
		Rotatorr: &timerotator.Layout{FileCount: rotatedFileCount},
	})
	if err != nil {
		return nil, err
	}

	sink := &zapSink{Logger: rr}
	p.Store(path, sink)
	return sink, nil
}

var pr = &pathRegistry{}

func init() {
	err := zap.RegisterSink(rotatingScheme, func(u *url.URL) (zap.Sink, error) {
		return pr.Register(u.Path)
	})
	if err != nil {
		panic(err)
	}
}

// Init builds the logger and attaches it to the returned context. Every
// package pulls it back out with ctxzap.Extract.
func Init(ctx context.Context, opts ...Option) (context.Context, error) {
	zc := zap.NewProductionConfig()
	zc.Sampling = nil
	zc.DisableStacktrace = true
	zc.Encoding = LogFormatConsole
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	for _, opt := range opts {
		opt(&zc)
	}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(l)

	l.Debug("logger configured",
		zap.String("log_level", zc.Level.String()),
		zap.Strings("outputs", zc.OutputPaths))

	return ctxzap.ToContext(ctx, l), nil
}
