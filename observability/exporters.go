package observability

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials/insecure"
)

type sink int

const (
	sinkNone sink = iota
	sinkStdout
	sinkOTLPHTTP
	sinkOTLPGRPC
)

// target is where one signal of the client's telemetry is exported.
type target struct {
	signal   string
	endpoint string
	sink     sink
	insecure bool
}

// resolveTarget picks the exporter for a signal. OTLP/HTTP endpoints are
// full URLs, OTLP/gRPC endpoints are host:port.
func resolveTarget(signal, endpoint, protocol string, insecureConn bool) (target, error) {
	t := target{signal: signal, endpoint: endpoint, insecure: insecureConn}
	switch {
	case endpoint == "":
		return t, nil
	case endpoint == EndpointStdout:
		t.sink = sinkStdout
		return t, nil
	}

	hasScheme := strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
	switch protocol {
	case ProtocolHTTP:
		if !hasScheme {
			return t, fmt.Errorf("%s endpoint %q needs an http(s):// URL: %w", signal, endpoint, ErrInvalidEndpointFormat)
		}
		t.sink = sinkOTLPHTTP
	case ProtocolGRPC:
		if hasScheme {
			return t, fmt.Errorf("%s endpoint %q must be host:port: %w", signal, endpoint, ErrInvalidEndpointFormat)
		}
		t.sink = sinkOTLPGRPC
	default:
		return t, fmt.Errorf("%s protocol %q: %w", signal, protocol, ErrInvalidProtocol)
	}
	return t, nil
}

func newSpanExporter(ctx context.Context, t target, w io.Writer) (sdktrace.SpanExporter, error) {
	switch t.sink {
	case sinkStdout:
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case sinkOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(t.endpoint)}
		if t.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	case sinkOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.endpoint)}
		if t.insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("no %s exporter configured", t.signal)
	}
}

func newMetricExporter(ctx context.Context, t target, w io.Writer) (sdkmetric.Exporter, error) {
	switch t.sink {
	case sinkStdout:
		return stdoutmetric.New(stdoutmetric.WithWriter(w))
	case sinkOTLPHTTP:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(t.endpoint)}
		if t.insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	case sinkOTLPGRPC:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(t.endpoint)}
		if t.insecure {
			opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("no %s exporter configured", t.signal)
	}
}
