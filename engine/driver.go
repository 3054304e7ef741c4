package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

// driver is the audio thread. It advances the engine one buffer per
// period on a dedicated goroutine until stopped.
type driver struct {
	eng     *Engine
	frames  int
	period  time.Duration
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	running atomic.Bool
	log     commonlog.Logger
}

func newDriver(e *Engine, p Params) *driver {
	period := time.Duration(float64(time.Second) * float64(p.BufferFrames) / float64(p.SampleRate))
	return &driver{
		eng:    e,
		frames: p.BufferFrames,
		period: max(period, time.Microsecond),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		log:    commonlog.GetLogger("shredctl.engine.audio"),
	}
}

func (d *driver) start() {
	d.running.Store(true)
	go d.loop()
	d.log.Info("audio thread started", "frames", d.frames, "period", d.period.String())
}

// loop advances the engine on every tick until quit is closed.
func (d *driver) loop() {
	defer close(d.done)
	defer d.running.Store(false)

	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.tick(); err != nil {
				if errors.Is(err, ErrClosed) {
					return
				}
				d.log.Error("audio tick failed", "error", err.Error())
			}
		case <-d.quit:
			d.log.Info("audio thread stopped")
			return
		}
	}
}

// tick runs one buffer, recovering from panics so a fault in one buffer
// does not kill the audio thread.
func (d *driver) tick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audio thread panic: %v", r)
		}
	}()
	_, err = d.eng.Advance(d.frames)
	return err
}

// stop signals the loop to exit. Safe to call more than once.
func (d *driver) stop() {
	d.once.Do(func() { close(d.quit) })
}
