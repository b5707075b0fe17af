package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cognitedata/cdf-replicator/internal/version"
)

const (
	defaultServiceName = "cdf-replicator"

	logExportInterval     = 5 * time.Second
	metricsExportInterval = time.Minute
)

type config struct {
	serviceName      string
	initialLogFields map[string]any

	// endpoint is the OTLP gRPC collector for spans and log records.
	endpoint    string
	caCert      string
	caCertPath  string
	tlsInsecure bool

	tracingDisabled bool
	loggingDisabled bool

	// metricsWriter receives periodic JSON metric dumps. Nil leaves the
	// global meter provider untouched.
	metricsWriter io.Writer

	mtx      sync.Mutex
	resource *resource.Resource
	conn     *grpc.ClientConn
	shutdown []func(context.Context) error
}

// Option configures Init.
type Option func(*config)

// WithServiceName sets the service name reported on every export.
func WithServiceName(name string) Option {
	return func(c *config) {
		c.serviceName = name
	}
}

// WithInitialLogFields adds fields to every log record once the otel
// log bridge replaces the global logger.
func WithInitialLogFields(fields map[string]any) Option {
	return func(c *config) {
		c.initialLogFields = fields
	}
}

// WithCollector points span and log export at an OTLP gRPC endpoint.
// The collector certificate comes from caCertPath or from caCert as
// base64 raw-url encoded PEM; with neither, the system pool is used.
func WithCollector(endpoint, caCertPath, caCert string) Option {
	return func(c *config) {
		c.endpoint = endpoint
		c.caCertPath = caCertPath
		c.caCert = caCert
		c.tlsInsecure = false
	}
}

// WithInsecureCollector points export at an OTLP gRPC endpoint without
// transport security.
func WithInsecureCollector(endpoint string) Option {
	return func(c *config) {
		c.endpoint = endpoint
		c.caCertPath = ""
		c.caCert = ""
		c.tlsInsecure = true
	}
}

// WithTracingDisabled keeps span export off even with an endpoint set.
func WithTracingDisabled() Option {
	return func(c *config) {
		c.tracingDisabled = true
	}
}

// WithLoggingDisabled keeps log export off even with an endpoint set.
func WithLoggingDisabled() Option {
	return func(c *config) {
		c.loggingDisabled = true
	}
}

// WithMetricsWriter enables the global meter provider and dumps its
// metrics to w as JSON once per export interval and on shutdown.
func WithMetricsWriter(w io.Writer) Option {
	return func(c *config) {
		c.metricsWriter = w
	}
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		serviceName: defaultServiceName,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *config) init(ctx context.Context) (context.Context, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.metricsWriter != nil {
		if err := c.initMetrics(ctx); err != nil {
			return nil, fmt.Errorf("telemetry: metrics: %w", err)
		}
	}

	if c.endpoint == "" || (c.loggingDisabled && c.tracingDisabled) {
		zap.L().Debug("telemetry: no collector endpoint, span and log export stay off")
		return ctx, nil
	}

	conn, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("telemetry: dialing collector: %w", err)
	}

	if !c.loggingDisabled {
		ctx, err = c.initLogging(ctx, conn)
		if err != nil {
			return nil, fmt.Errorf("telemetry: logging: %w", err)
		}
	}
	if !c.tracingDisabled {
		if err := c.initTracing(ctx, conn); err != nil {
			return nil, fmt.Errorf("telemetry: tracing: %w", err)
		}
	}
	return ctx, nil
}

// dial connects to the collector endpoint, reusing the connection on
// repeated calls. The caller holds c.mtx.
func (c *config) dial() (*grpc.ClientConn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	var creds credentials.TransportCredentials
	if c.tlsInsecure {
		zap.L().Warn("telemetry: collector connection is not encrypted", zap.String("endpoint", c.endpoint))
		creds = insecure.NewCredentials()
	} else {
		tlsConfig, err := collectorTLSConfig(c.caCertPath, c.caCert)
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	conn, err := grpc.NewClient(c.endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *config) getResource(ctx context.Context) (*resource.Resource, error) {
	if c.resource != nil {
		return c.resource, nil
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(c.serviceName),
			semconv.ServiceVersionKey.String(version.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building otel resource: %w", err)
	}
	c.resource = res
	return res, nil
}

func (c *config) initTracing(ctx context.Context, conn *grpc.ClientConn) error {
	res, err := c.getResource(ctx)
	if err != nil {
		return err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return fmt.Errorf("creating trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	zap.L().Debug("telemetry: span export enabled")
	c.shutdown = append(c.shutdown, provider.Shutdown)
	return nil
}

// initLogging tees the global zap logger into an otlp log exporter, so
// logging.Init must have run before telemetry.Init.
func (c *config) initLogging(ctx context.Context, conn *grpc.ClientConn) (context.Context, error) {
	res, err := c.getResource(ctx)
	if err != nil {
		return nil, err
	}

	exporter, err := otlploggrpc.New(ctx, otlploggrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("creating log exporter: %w", err)
	}
	processor := sdklog.NewBatchProcessor(exporter, sdklog.WithExportInterval(logExportInterval))
	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(processor),
	)

	core := otelzap.NewCore(c.serviceName,
		otelzap.WithVersion(version.Version),
		otelzap.WithLoggerProvider(provider),
	)
	teed := zap.WrapCore(func(existing zapcore.Core) zapcore.Core {
		return zapcore.NewTee(existing, core)
	})

	// Fields given to the base logger at build time are not readable
	// here, so the bridged logger restates them.
	fields := make([]zap.Field, 0, len(c.initialLogFields))
	for k, v := range c.initialLogFields {
		switch v := v.(type) {
		case string:
			fields = append(fields, zap.String(k, v))
		case int:
			fields = append(fields, zap.Int(k, v))
		default:
			fields = append(fields, zap.Any(k, v))
		}
	}

	l := zap.L().WithOptions(teed).With(fields...)
	zap.ReplaceGlobals(l)
	l.Debug("telemetry: log export enabled")

	c.shutdown = append(c.shutdown, processor.Shutdown)
	return ctxzap.ToContext(ctx, l), nil
}

func (c *config) initMetrics(ctx context.Context) error {
	res, err := c.getResource(ctx)
	if err != nil {
		return err
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithEncoder(json.NewEncoder(c.metricsWriter)))
	if err != nil {
		return fmt.Errorf("creating metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricsExportInterval))),
	)
	otel.SetMeterProvider(provider)

	zap.L().Debug("telemetry: metrics export enabled")
	c.shutdown = append(c.shutdown, provider.Shutdown)
	return nil
}

// Close flushes every exporter and then closes the collector
// connection. Exporters shut down first so their final flush still has
// a connection to send on.
func (c *config) Close(ctx context.Context) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var errs []error
	for _, shutdown := range c.shutdown {
		if err := shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.shutdown = nil

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		c.conn = nil
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry: shutdown: %w", err)
	}
	return nil
}

// collectorTLSConfig builds the TLS client configuration for the
// collector connection. caCertPath names a PEM file; caCert is base64
// raw-url encoded PEM, handy for injection through an env var. With
// neither, the system certificate pool is used.
func collectorTLSConfig(caCertPath, caCert string) (*tls.Config, error) {
	if caCertPath != "" && caCert != "" {
		return nil, errors.New("ca cert path and inline ca cert are mutually exclusive")
	}

	if caCertPath == "" && caCert == "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("loading system certificate pool: %w", err)
		}
		return &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool}, nil
	}

	var pemData []byte
	if caCertPath != "" {
		data, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("reading collector ca cert: %w", err)
		}
		pemData = data
	} else {
		decoded, err := base64.RawURLEncoding.DecodeString(caCert)
		if err != nil {
			return nil, fmt.Errorf("decoding collector ca cert: %w", err)
		}
		pemData = decoded
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, errors.New("parsing collector ca cert")
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool}, nil
}
