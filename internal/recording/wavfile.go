package recording

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"time"
)

// WavFile replays a 16-bit PCM WAV file as if it were a microphone. Multi
// channel audio is mixed down to mono. The stream ends, closing both
// channels, after the last frame.
type WavFile struct {
	path string
	// Realtime paces frames at the audio's own speed instead of as fast as
	// the reader consumes them.
	Realtime bool
	// SampleRate resamples to this rate when non-zero.
	SampleRate int

	mu        sync.Mutex
	pcm       []byte
	rate      int
	cancel    context.CancelFunc
	done      chan struct{}
	recording bool
	muted     bool
}

func NewWavFile(path string) *WavFile {
	return &WavFile{path: path}
}

func (w *WavFile) load() error {
	if w.pcm != nil {
		return nil
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	info, err := parseWAV(data)
	if err != nil {
		return fmt.Errorf("%s: %w", w.path, err)
	}
	mono, err := downmixToMono(info.data, info.channels)
	if err != nil {
		return err
	}
	w.rate = info.sampleRate
	if w.SampleRate > 0 && w.SampleRate != w.rate {
		mono = resamplePCM16(mono, w.rate, w.SampleRate)
		w.rate = w.SampleRate
	}
	if len(mono) == 0 {
		return fmt.Errorf("%s: empty audio data", w.path)
	}
	w.pcm = mono
	return nil
}

func (w *WavFile) Format(ctx context.Context) (Format, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.load(); err != nil {
		return Format{}, err
	}
	return Format{SampleRate: w.rate, Channels: 1}, nil
}

func (w *WavFile) Start(ctx context.Context, bufferSize int) (<-chan AudioFrame, <-chan error, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.recording {
		return nil, nil, ErrAlreadyRecording
	}
	if err := w.load(); err != nil {
		return nil, nil, err
	}
	if bufferSize <= 0 {
		bufferSize = Format{SampleRate: w.rate}.BufferSize()
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.recording = true

	frameCh := make(chan AudioFrame)
	errCh := make(chan error, 1)
	go w.replay(ctx, bufferSize, frameCh, errCh)

	return frameCh, errCh, nil
}

func (w *WavFile) replay(ctx context.Context, bufferSize int, frameCh chan<- AudioFrame, errCh chan<- error) {
	defer func() {
		close(frameCh)
		close(errCh)
		w.mu.Lock()
		w.recording = false
		close(w.done)
		w.mu.Unlock()
	}()

	pace := time.Duration(float64(bufferSize) / float64(w.rate*2) * float64(time.Second))
	for offset := 0; offset < len(w.pcm); offset += bufferSize {
		end := min(offset+bufferSize, len(w.pcm))
		data := w.pcm[offset:end]
		if w.Muted() {
			data = make([]byte, len(data))
		}

		select {
		case frameCh <- AudioFrame{Data: data, Timestamp: time.Now()}:
		case <-ctx.Done():
			return
		}

		if w.Realtime {
			select {
			case <-time.After(pace):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *WavFile) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (w *WavFile) IsRecording() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recording
}

func (w *WavFile) SetMuted(muted bool) {
	w.mu.Lock()
	w.muted = muted
	w.mu.Unlock()
}

func (w *WavFile) Muted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.muted
}

type wavData struct {
	data          []byte
	sampleRate    int
	channels      int
	bitsPerSample int
}

func parseWAV(data []byte) (*wavData, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("invalid wav: too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid wav: missing riff/wave header")
	}

	offset := 12
	var fmtFound, dataFound bool
	var info wavData

	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		offset += 8
		if chunkSize < 0 || offset+chunkSize > len(data) {
			return nil, fmt.Errorf("invalid wav: chunk overflows file")
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("invalid wav: fmt chunk too short")
			}
			if format := binary.LittleEndian.Uint16(data[offset : offset+2]); format != 1 {
				return nil, fmt.Errorf("unsupported wav format: %d", format)
			}
			info.channels = int(binary.LittleEndian.Uint16(data[offset+2 : offset+4]))
			info.sampleRate = int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
			info.bitsPerSample = int(binary.LittleEndian.Uint16(data[offset+14 : offset+16]))
			fmtFound = true
		case "data":
			info.data = data[offset : offset+chunkSize]
			dataFound = true
		}

		offset += chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	switch {
	case !fmtFound || !dataFound:
		return nil, fmt.Errorf("invalid wav: missing fmt or data chunk")
	case info.bitsPerSample != 16:
		return nil, fmt.Errorf("unsupported wav bits per sample: %d", info.bitsPerSample)
	case info.sampleRate <= 0:
		return nil, fmt.Errorf("invalid wav sample rate: %d", info.sampleRate)
	case info.channels <= 0:
		return nil, fmt.Errorf("invalid wav: channels=%d", info.channels)
	}
	return &info, nil
}

func downmixToMono(data []byte, channels int) ([]byte, error) {
	if channels == 1 {
		return data[:len(data)&^1], nil
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	frameSize := 2 * channels
	frames := len(data) / frameSize
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			idx := (i*channels + c) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(data[idx : idx+2])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out, nil
}

// resamplePCM16 converts by linear interpolation.
func resamplePCM16(data []byte, inRate, outRate int) []byte {
	if inRate <= 0 || outRate <= 0 || inRate == outRate || len(data) < 2 {
		return data
	}

	numIn := len(data) / 2
	numOut := int(math.Round(float64(numIn) * float64(outRate) / float64(inRate)))
	if numOut <= 0 {
		return nil
	}

	out := make([]byte, numOut*2)
	for i := 0; i < numOut; i++ {
		srcPos := float64(i) * float64(inRate) / float64(outRate)
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s1 := sampleAt(data, srcIdx)
		s2 := sampleAt(data, srcIdx+1)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(float64(s1)*(1-frac)+float64(s2)*frac)))
	}
	return out
}

func sampleAt(data []byte, idx int) int16 {
	pos := max(idx, 0) * 2
	if pos+1 >= len(data) {
		pos = len(data) - 2
	}
	return int16(binary.LittleEndian.Uint16(data[pos : pos+2]))
}
