package session

import "context"

// Recognize listens for a single utterance and returns its text. It fails
// with ErrTimeout when opts.Timeout elapses first and with an *EngineFault
// when capture or the engine reports an error. Continuous is ignored.
// Handlers registered on the session still see every event.
func (s *Session) Recognize(ctx context.Context, opts Options) (string, error) {
	opts.Continuous = false
	p, err := s.start(ctx, opts)
	if err != nil {
		return "", err
	}

	select {
	case <-p.stopped:
	case err := <-p.faults:
		s.teardown(p, reasonRestart)
		<-p.stopped
		return "", err
	case <-ctx.Done():
		s.teardown(p, reasonRestart)
		<-p.stopped
		return "", ctx.Err()
	}

	select {
	case err := <-p.faults:
		return "", err
	default:
	}
	switch {
	case p.timedOut:
		return "", ErrTimeout
	case p.hasResult:
		return p.result, nil
	default:
		// stopped from elsewhere; whatever was flushed is the answer
		return p.final, nil
	}
}
