// Package logging builds the process logger.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a development logger when mode is "debug" and a JSON
// production logger otherwise.
func New(mode string) (*zap.Logger, error) {
	if strings.ToLower(mode) == "debug" {
		return zap.NewDevelopment()
	}
	logCfg := zap.NewProductionConfig()
	logCfg.EncoderConfig.TimeKey = "time"
	logCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return logCfg.Build()
}
