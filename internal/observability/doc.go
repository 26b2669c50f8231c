// Package observability bundles the logging, metrics, and tracing plumbing
// shared by every docsight component.
//
// Loggers wrap slog with sensitive-value redaction and context correlation
// (request, chat, and user IDs). Metrics are Prometheus vectors covering the
// LLM calls, renders, cache traffic, queue, and HTTP surface. Tracing is an
// optional OTLP exporter with one span per pipeline stage.
package observability
