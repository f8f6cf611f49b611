package logging

import (
	"strings"

	"go.uber.org/zap"
)

// ZapSinks adapts a zap logger into the two sink functions, for clients
// that already log structured JSON. Normal messages map to Info, the
// diagnostic/error sink to Warn.
func ZapSinks(zl *zap.Logger) (logPrint, diagPrint func(string)) {
	logPrint = func(msg string) {
		zl.Info(strings.TrimRight(msg, "\n"))
	}
	diagPrint = func(msg string) {
		zl.Warn(strings.TrimRight(msg, "\n"))
	}
	return logPrint, diagPrint
}
