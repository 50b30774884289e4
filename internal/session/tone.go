package session

import (
	"log/slog"
	"sync/atomic"
)

// TonePlayer is the process-wide ringback tone. Play and Stop are idempotent;
// there is exactly one instance per process, constructed at startup and
// passed to the controller.
type TonePlayer interface {
	Play()
	Stop()
}

// LogTonePlayer stands in where no audio output exists (servers, tests).
// It tracks playing state so Play/Stop stay idempotent and observable.
type LogTonePlayer struct {
	log     *slog.Logger
	playing atomic.Bool
}

func NewLogTonePlayer(log *slog.Logger) *LogTonePlayer {
	if log == nil {
		log = slog.Default()
	}
	return &LogTonePlayer{log: log}
}

func (p *LogTonePlayer) Play() {
	if p.playing.CompareAndSwap(false, true) {
		p.log.Debug("ringback tone started")
	}
}

func (p *LogTonePlayer) Stop() {
	if p.playing.CompareAndSwap(true, false) {
		p.log.Debug("ringback tone stopped")
	}
}

// Playing reports whether the tone is currently audible.
func (p *LogTonePlayer) Playing() bool { return p.playing.Load() }
