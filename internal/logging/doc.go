// Package logging wraps zap with context-aware methods for the loop.
//
// Loggers pull correlation fields out of the context on every call: the
// run id, the story being worked and the iteration number, plus the trace
// and span ids when an OpenTelemetry span is active. Sensitive keys and
// credential-shaped values are redacted by the encoder before they reach
// any output.
//
// When ralph serves MCP over stdio, stdout belongs to the protocol, so
// the serve command switches Output.Stdout off and Output.Stderr on.
package logging
