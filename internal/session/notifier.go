package session

import "log/slog"

// Notifier surfaces transient user-facing notifications. Every asynchronous
// error with a non-empty code produces exactly one Error call; silent state
// changes produce none.
type Notifier interface {
	Info(msg string)
	Error(code, msg string)
}

// LogNotifier is the default Notifier, writing notifications to the
// structured log.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Info(msg string) {
	n.log.Info("notification", "msg", msg)
}

func (n *LogNotifier) Error(code, msg string) {
	n.log.Error("notification", "code", code, "msg", msg)
}
