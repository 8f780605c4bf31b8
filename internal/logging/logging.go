// Package logging provides the agent's structured logger.
//
// Replaces the teacher's minimal sf-apis/go/logger package with a real
// ecosystem logger (go.uber.org/zap, also used by DataDog-datadog-agent)
// wired the same way the teacher wires its own: a single package-level
// logger referenced from every component.
package logging

import "go.uber.org/zap"

// L is the process-wide sugared logger. Replace via SetLogger during
// bootstrap; defaults to a production logger so packages are usable in
// tests without explicit setup.
var L = newDefault()

func newDefault() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

// SetLogger replaces the process-wide logger. Called once from main after
// parsing configuration (e.g. to honor a verbose/debug flag).
func SetLogger(l *zap.SugaredLogger) {
	L = l
}

// NewDevelopment returns a human-readable, colorized logger suitable for
// local runs and tests.
func NewDevelopment() *zap.SugaredLogger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}
