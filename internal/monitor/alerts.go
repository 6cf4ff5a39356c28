package monitor

import "go.uber.org/zap"

// AlertSink is a pluggable alert delivery target.
type AlertSink interface {
	Send(message string) error
}

// LogSink delivers alerts to the process log. It is the default sink when no
// external delivery is configured.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Send(message string) error {
	if s.Log != nil {
		s.Log.Warn("alert dispatched", zap.String("message", message))
	}
	return nil
}
