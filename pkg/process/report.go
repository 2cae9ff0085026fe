// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import "go.uber.org/zap"

// ErrorReporter receives 5xx-class errors — every other error emits a
// metric label instead. It is an interface so a real Sentry client can be
// swapped in without the web layer knowing about it.
type ErrorReporter interface {
	Report(err error, tags map[string]string)
}

// LoggingReporter is the default ErrorReporter: it logs at error level
// with a captured stack.
type LoggingReporter struct {
	Log *zap.Logger
}

// Report implements ErrorReporter.
func (r LoggingReporter) Report(err error, tags map[string]string) {
	fields := make([]zap.Field, 0, len(tags)+2)
	fields = append(fields, zap.Error(err), zap.Stack("stack"))
	for k, v := range tags {
		fields = append(fields, zap.String(k, v))
	}
	r.Log.Error("reportable error", fields...)
}
