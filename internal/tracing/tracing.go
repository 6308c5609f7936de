// Package tracing records run, task and step spans with OpenTelemetry.
package tracing

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	instrumentationNameConstant  = "github.com/tyemirov/up"
	serviceNameAttributeConstant = "service.name"
	serviceVersionAttribute      = "service.version"
	traceFilePermissionsConstant = 0o644
)

// Options configures the trace exporter.
type Options struct {
	ServiceName    string
	ServiceVersion string
	// OutputPath receives JSON spans; empty disables tracing unless Writer is set.
	OutputPath string
	Writer     io.Writer
}

// Provider hands out spans and flushes them on Shutdown.
type Provider struct {
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	outputFile     *os.File
}

// NewProvider builds a provider exporting to the configured destination, or a no-op provider when none is set.
func NewProvider(executionContext context.Context, options Options) (*Provider, error) {
	writer := options.Writer
	var outputFile *os.File
	if outputPath := strings.TrimSpace(options.OutputPath); len(outputPath) > 0 {
		createdFile, createError := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, traceFilePermissionsConstant)
		if createError != nil {
			return nil, createError
		}
		outputFile = createdFile
		writer = createdFile
	}
	if writer == nil {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(instrumentationNameConstant)}, nil
	}

	exporter, exporterError := stdouttrace.New(stdouttrace.WithWriter(writer))
	if exporterError != nil {
		closeQuietly(outputFile)
		return nil, exporterError
	}
	traceResource, resourceError := resource.New(executionContext, resource.WithAttributes(
		attribute.String(serviceNameAttributeConstant, options.ServiceName),
		attribute.String(serviceVersionAttribute, options.ServiceVersion),
	))
	if resourceError != nil {
		closeQuietly(outputFile)
		return nil, resourceError
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(traceResource),
	)
	return &Provider{
		tracer:         tracerProvider.Tracer(instrumentationNameConstant),
		tracerProvider: tracerProvider,
		outputFile:     outputFile,
	}, nil
}

// Start opens a span as a child of any span already in the context.
func (provider *Provider) Start(executionContext context.Context, name string, attributes map[string]string) (context.Context, Span) {
	if provider == nil || provider.tracer == nil {
		return executionContext, Span{}
	}
	spanContext, span := provider.tracer.Start(executionContext, name, trace.WithAttributes(toAttributes(attributes)...))
	return spanContext, Span{span: span}
}

// Shutdown flushes pending spans and closes the trace file.
func (provider *Provider) Shutdown(executionContext context.Context) error {
	if provider == nil {
		return nil
	}
	var shutdownError error
	if provider.tracerProvider != nil {
		shutdownError = provider.tracerProvider.Shutdown(executionContext)
	}
	if provider.outputFile != nil {
		if closeError := provider.outputFile.Close(); closeError != nil && shutdownError == nil {
			shutdownError = closeError
		}
	}
	return shutdownError
}

// Span is an open span; the zero value ignores every call.
type Span struct {
	span trace.Span
}

// SetAttribute records a string attribute.
func (span Span) SetAttribute(key string, value string) {
	if span.span == nil {
		return
	}
	span.span.SetAttributes(attribute.String(key, value))
}

// End closes the span, marking it failed when err is set.
func (span Span) End(err error) {
	if span.span == nil {
		return
	}
	if err != nil {
		span.span.RecordError(err)
		span.span.SetStatus(codes.Error, err.Error())
	} else {
		span.span.SetStatus(codes.Ok, "")
	}
	span.span.End()
}

func toAttributes(attributes map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(attributes))
	for key := range attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	converted := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		converted = append(converted, attribute.String(key, attributes[key]))
	}
	return converted
}

func closeQuietly(outputFile *os.File) {
	if outputFile != nil {
		_ = outputFile.Close()
	}
}
