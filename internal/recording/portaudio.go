//go:build portaudio

package recording

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

func init() {
	backends["portaudio"] = func(cfg Config) (Source, error) {
		return NewPortAudioRecorder(cfg), nil
	}
}

// PortAudioRecorder captures from the default input device through PortAudio.
type PortAudioRecorder struct {
	config    Config
	recording atomic.Bool
	muted     atomic.Bool

	mu     sync.Mutex // guards cancel
	cancel context.CancelFunc

	wg sync.WaitGroup
}

func NewPortAudioRecorder(config Config) *PortAudioRecorder {
	return &PortAudioRecorder{config: config}
}

func (r *PortAudioRecorder) IsRecording() bool { return r.recording.Load() }

func (r *PortAudioRecorder) SetMuted(muted bool) { r.muted.Store(muted) }

func (r *PortAudioRecorder) Muted() bool { return r.muted.Load() }

// Format reports the device's native rate unless the config pins one.
func (r *PortAudioRecorder) Format(ctx context.Context) (Format, error) {
	if r.config.SampleRate > 0 {
		return Format{SampleRate: r.config.SampleRate, Channels: 1}, nil
	}

	if err := portaudio.Initialize(); err != nil {
		return Format{}, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return Format{}, fmt.Errorf("no default input device: %w", err)
	}
	return Format{SampleRate: int(dev.DefaultSampleRate), Channels: 1}, nil
}

func (r *PortAudioRecorder) Start(ctx context.Context, bufferSize int) (<-chan AudioFrame, <-chan error, error) {
	if r.recording.Load() {
		return nil, nil, ErrAlreadyRecording
	}

	format, err := r.Format(ctx)
	if err != nil {
		return nil, nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	samples := make([]int16, bufferSize/2)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(format.SampleRate), len(samples), samples)
	if err != nil {
		portaudio.Terminate()
		return nil, nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, nil, fmt.Errorf("start input stream: %w", err)
	}

	captureCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	frameCh := make(chan AudioFrame, r.config.ChannelBufferSize)
	errCh := make(chan error, 1)

	r.recording.Store(true)
	r.wg.Add(1)
	go r.captureLoop(captureCtx, stream, samples, frameCh, errCh)

	return frameCh, errCh, nil
}

func (r *PortAudioRecorder) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	return nil
}

func (r *PortAudioRecorder) captureLoop(ctx context.Context, stream *portaudio.Stream, samples []int16, frameCh chan<- AudioFrame, errCh chan<- error) {
	defer func() {
		if err := stream.Stop(); err != nil {
			log.Printf("Recording: portaudio stop: %v", err)
		}
		stream.Close()
		portaudio.Terminate()

		close(frameCh)
		close(errCh)
		r.recording.Store(false)
		r.wg.Done()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := stream.Read(); err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case errCh <- fmt.Errorf("read audio: %w", err):
			default:
			}
			log.Printf("Recording error: %v", err)
			return
		}

		data := make([]byte, len(samples)*2)
		if !r.muted.Load() {
			for i, s := range samples {
				binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
			}
		}

		select {
		case frameCh <- AudioFrame{Data: data, Timestamp: time.Now()}:
		case <-ctx.Done():
			return
		default:
			log.Printf("Recording: dropped frame due to backpressure")
		}
	}
}
