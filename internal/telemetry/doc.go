// Package telemetry initializes the OpenTelemetry SDK for CaseFlow.
// This package is internal and should not be imported by external projects.
package telemetry
