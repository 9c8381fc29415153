package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"statusboard/internal/logging"
	"statusboard/internal/notify"
	"statusboard/internal/observability"
)

type streamer struct {
	watcher notify.Watcher
	logger  logging.Logger
}

// serve holds one subscriber's stream open until the client goes away.
func (s streamer) serve(hctx huma.Context) {
	ctx := hctx.Context()
	hctx.SetHeader("Content-Type", "text/event-stream")
	hctx.SetHeader("Cache-Control", "no-cache")
	hctx.SetHeader("Connection", "keep-alive")
	hctx.SetHeader("X-Accel-Buffering", "no")
	hctx.SetStatus(http.StatusOK)

	sink := newSSESink(hctx.BodyWriter())
	if err := sink.flush(); err != nil {
		s.logger.Error("stream flush unsupported", "error", err)
		return
	}

	id := uuid.NewString()
	s.logger.Info("stream client connected", "subscriber", id)
	observability.SubscriberOpened()
	defer func() {
		observability.SubscriberClosed()
		s.logger.Info("stream client disconnected", "subscriber", id)
	}()

	err := s.watcher.Run(ctx, sink)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("stream closed", "subscriber", id, "error", err)
	}
}

// sseSink writes change tokens as server-sent events.
type sseSink struct {
	w       io.Writer
	rc      *http.ResponseController
	flusher http.Flusher
}

func newSSESink(w io.Writer) *sseSink {
	s := &sseSink{w: w}
	if rw, ok := w.(http.ResponseWriter); ok {
		s.rc = http.NewResponseController(rw)
		// Streams outlive the server's write timeout.
		_ = s.rc.SetWriteDeadline(time.Time{})
	} else if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

func (s *sseSink) flush() error {
	switch {
	case s.rc != nil:
		return s.rc.Flush()
	case s.flusher != nil:
		s.flusher.Flush()
		return nil
	default:
		return http.ErrNotSupported
	}
}

func (s *sseSink) Notify(tok notify.Token) error {
	if _, err := fmt.Fprintf(s.w, "data: %d\n\n", tok); err != nil {
		return err
	}
	observability.RecordNotification("stream")
	return s.flush()
}

func (s *sseSink) KeepAlive() error {
	if _, err := io.WriteString(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	return s.flush()
}
