// Package observability provides structured logging for the news portal backend.
//
// Logging is built on zap and exposed through the Logger interface so that
// packages can accept a logger without depending on zap directly. NopLogger
// returns a silent logger for tests.
package observability
