package session

import (
	"github.com/leonardotrapani/voskbind/internal/events"
	"github.com/leonardotrapani/voskbind/internal/hypothesis"
	"github.com/leonardotrapani/voskbind/internal/recording"
)

// decode feeds frames to the phase's recognizer in arrival order. It is the
// only goroutine that touches p.rec while the phase is live.
func (s *Session) decode(p *phase, frames <-chan recording.AudioFrame, errs <-chan error) {
	defer close(p.done)

	var lastEmitted string
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.emitFault(p, "capture", err)
			go s.teardown(p, reasonStop)
			return

		case frame, ok := <-frames:
			if !ok {
				// capture ended on its own, or teardown already stopped it
				go s.teardown(p, reasonStop)
				return
			}

			endOfUtterance, err := p.rec.AcceptWaveform(frame.Data)
			if err != nil {
				s.emitFault(p, "accept waveform", err)
				continue
			}

			if endOfUtterance {
				text := hypothesis.Parse(hypothesis.Final, p.rec.Result()).Text
				lastEmitted = ""
				p.pending = ""
				s.emit(p, events.Result, text)
				if !p.opts.Continuous {
					p.result, p.hasResult = text, true
					go s.teardown(p, reasonUtterance)
					return
				}
				continue
			}

			text := hypothesis.Parse(hypothesis.Partial, p.rec.PartialResult()).Text
			if text == "" || text == lastEmitted {
				continue
			}
			lastEmitted = text
			p.pending = text
			s.emit(p, events.PartialResult, text)
		}
	}
}

func finalText(payload string) string {
	return hypothesis.Parse(hypothesis.Final, payload).Text
}
