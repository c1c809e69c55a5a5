//go:build linux

package bpf

import (
	"errors"
	"time"

	"github.com/cilium/ebpf/ringbuf"

	"github.com/taskscope/taskscope/internal/profile/drain"
)

// ringbufReader adapts *ringbuf.Reader to drain.Reader, translating
// ringbuf.ErrClosed into drain.ErrClosed so the drainer's core loop has
// no direct cilium/ebpf dependency.
type ringbufReader struct {
	r *ringbuf.Reader
}

// DrainReader returns the drain.Reader view of this Probes' ring buffer.
func (p *Probes) DrainReader() drain.Reader {
	return &ringbufReader{r: p.Reader}
}

func (a *ringbufReader) SetDeadline(t time.Time) error {
	return a.r.SetDeadline(t)
}

func (a *ringbufReader) Read() (drain.Record, error) {
	rec, err := a.r.Read()
	if err != nil {
		if errors.Is(err, ringbuf.ErrClosed) {
			return drain.Record{}, drain.ErrClosed
		}
		return drain.Record{}, err
	}
	return drain.Record{RawSample: rec.RawSample}, nil
}
