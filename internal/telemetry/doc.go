// Package telemetry exports ralph's traces and metrics over OTLP.
//
// Export is off by default. When enabled, each run produces a span per
// iteration with child spans for the agent invocation and gate evaluation,
// and counters for iterations, verdicts and blocked stories.
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc        # or http/protobuf
//	  sampling:
//	    rate: 1.0
//	  metrics:
//	    export_interval: "15s"
//
// Failures to build an exporter degrade the instance instead of failing the
// run. Tests use NewTestTelemetry, which records everything in memory.
package telemetry
