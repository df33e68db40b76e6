// Package telemetry configures OpenTelemetry tracing for farmrun.
//
// Init installs the global tracer provider selected by the exporter name
// ("none", "stdout" or "otlphttp"). StartSpan opens spans on the farmrun
// tracer; with the "none" exporter spans are no-ops.
package telemetry
