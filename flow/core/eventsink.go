package core

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventSink receives the events published by logging stages. The tag
// identifies the publishing stage.
type EventSink interface {
	Publish(level zapcore.Level, tag, message string, cause error)
}

type zapEventSink struct {
	log *zap.Logger
}

// NewZapEventSink publishes events through log.
func NewZapEventSink(log *zap.Logger) EventSink {
	return &zapEventSink{log: log}
}

func (s *zapEventSink) Publish(level zapcore.Level, tag, message string, cause error) {
	if ce := s.log.Check(level, message); ce != nil {
		fields := []zap.Field{zap.String("tag", tag)}
		if cause != nil {
			fields = append(fields, zap.Error(cause))
		}
		ce.Write(fields...)
	}
}
