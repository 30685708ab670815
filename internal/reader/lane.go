package reader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hszk-dev/mediacache/internal/decoder"
	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

type job struct {
	ctx   context.Context
	frame model.FrameIdentity
	reply chan result
}

type result struct {
	buf *model.DecodedBuffer
	err error
}

// lane is one decode worker. It owns its Decoder and runs jobs strictly one at
// a time on its own goroutine.
type lane struct {
	name    string
	dec     decoder.Decoder
	jobs    chan job
	closing <-chan struct{}
	exited  chan struct{}
}

func newLane(name string, dec decoder.Decoder, closing <-chan struct{}) *lane {
	l := &lane{
		name:    name,
		dec:     dec,
		jobs:    make(chan job),
		closing: closing,
		exited:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *lane) run() {
	defer close(l.exited)
	defer func() {
		if err := l.dec.Close(); err != nil {
			slog.Warn("failed to close decoder", "lane", l.name, "error", err)
		}
	}()

	for {
		select {
		case <-l.closing:
			return
		case j := <-l.jobs:
			buf, err := l.decode(j.ctx, j.frame)
			j.reply <- result{buf: buf, err: err}
		}
	}
}

func (l *lane) decode(ctx context.Context, frame model.FrameIdentity) (buf *model.DecodedBuffer, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("decoder panicked", "lane", l.name, "uri", frame.URI, "panic", r)
			buf = nil
			err = model.NewMediaError(model.CodeUnreadable, fmt.Sprintf("decoder failed: %v", r), nil)
		}
		status := metrics.ResultSuccess
		if err != nil {
			status = metrics.ResultError
		}
		metrics.DecodeDuration.WithLabelValues(l.name, status).Observe(time.Since(start).Seconds())
	}()

	if frame.Kind == model.KindAudio {
		buf, err = l.dec.Audio(ctx, frame)
	} else {
		buf, err = l.dec.Image(ctx, frame)
	}
	if err == nil && buf == nil {
		err = model.NewMediaError(model.CodeCorrupt, "decoder returned empty buffer", nil)
	}
	return buf, err
}

// do submits frame to the lane and waits for the outcome.
// A closed reader resolves pending and new jobs as ConnectionUnavailable.
func (l *lane) do(ctx context.Context, frame model.FrameIdentity) (*model.DecodedBuffer, error) {
	reply := make(chan result, 1)

	select {
	case l.jobs <- job{ctx: ctx, frame: frame, reply: reply}:
	case <-l.closing:
		return nil, errReaderClosed
	case <-ctx.Done():
		return nil, model.NewMediaError(model.CodeTimeout, "", ctx.Err())
	}

	select {
	case r := <-reply:
		return r.buf, r.err
	case <-l.exited:
		return nil, errReaderClosed
	case <-ctx.Done():
		return nil, model.NewMediaError(model.CodeTimeout, "", ctx.Err())
	}
}

var errReaderClosed = model.NewMediaError(model.CodeConnectionUnavailable, "reader closed", nil)
