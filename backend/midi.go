package backend

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rakyll/portmidi"
	"github.com/sirupsen/logrus"

	"github.com/libreblog/noisicaa"
)

// midiListener polls the default midi input device from its own
// goroutine and buffers events until the next block picks them up.
// Losing events under pressure is preferred over blocking the device
// thread, so the buffer channel drops when full.
type midiListener struct {
	log        *logrus.Entry
	sampleRate int

	events   chan noisicaa.MidiEvent
	stopping atomic.Bool
	wg       sync.WaitGroup

	in *portmidi.Stream
}

func newMidiListener(log *logrus.Logger, sampleRate int) *midiListener {
	return &midiListener{
		log:        log.WithField("component", "backend.midi"),
		sampleRate: sampleRate,
		events:     make(chan noisicaa.MidiEvent, 128),
	}
}

// start subscribes to the default input device. A machine without midi
// input is not an error; the listener just stays idle.
func (l *midiListener) start() {
	if err := portmidi.Initialize(); err != nil {
		l.log.WithError(err).Warn("portmidi unavailable, midi input disabled")
		return
	}

	deviceID := portmidi.DefaultInputDeviceID()
	if deviceID < 0 {
		l.log.Info("no midi input device")
		return
	}

	in, err := portmidi.NewInputStream(deviceID, 64)
	if err != nil {
		l.log.WithError(err).Warn("failed to open midi input")
		return
	}
	l.in = in

	l.wg.Add(1)
	go l.listen()
}

func (l *midiListener) listen() {
	defer l.wg.Done()
	for !l.stopping.Load() {
		events, err := l.in.Read(64)
		if err != nil {
			l.log.WithError(err).Warn("midi read failed")
			return
		}
		if len(events) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		for _, ev := range events {
			me := noisicaa.MidiEvent{
				Data: [3]byte{byte(ev.Status), byte(ev.Data1), byte(ev.Data2)},
			}
			select {
			case l.events <- me:
			default:
				l.log.Warn("dropping midi event, buffer full")
			}
		}
	}
}

// stop flags the goroutine and waits for it.
func (l *midiListener) stop() {
	l.stopping.Store(true)
	l.wg.Wait()
	if l.in != nil {
		if err := l.in.Close(); err != nil {
			l.log.WithError(err).Error("failed to close midi input")
		}
		l.in = nil
		portmidi.Terminate()
	}
}

// drain appends all buffered events to dst. Events arrived before the
// block started, so they are tagged with offset 0.
func (l *midiListener) drain(dst []noisicaa.MidiEvent, blockSize uint32) []noisicaa.MidiEvent {
	for {
		select {
		case ev := <-l.events:
			ev.Frames = 0
			dst = append(dst, ev)
		default:
			return dst
		}
	}
}
