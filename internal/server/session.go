package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/overlayctl/internal/observability"
	"github.com/danmuck/overlayctl/internal/protocol"
	"github.com/danmuck/overlayctl/internal/ratelimit"
	"github.com/danmuck/overlayctl/internal/store"
)

// session owns one accepted connection end to end. One bad line never closes
// the connection; only transport failures, the idle timeout, or shutdown do.
type session struct {
	id          int64
	conn        net.Conn
	remote      string
	srv         *Server
	window      *ratelimit.Window
	connectedAt time.Time
	messages    int64
	log         zerolog.Logger
}

func newSession(id int64, conn net.Conn, srv *Server) *session {
	remote := conn.RemoteAddr().String()
	return &session{
		id:          id,
		conn:        conn,
		remote:      remote,
		srv:         srv,
		window:      ratelimit.NewWindow(srv.cfg.Security.RatePerSecond, time.Second),
		connectedAt: time.Now(),
		log:         log.With().Int64("session", id).Str("remote", remote).Logger(),
	}
}

func (sess *session) run(ctx context.Context) {
	defer sess.srv.wg.Done()
	defer sess.srv.dropSession(sess)
	defer sess.conn.Close()

	// Unblock the pending read as soon as shutdown cancels the context.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.conn.SetReadDeadline(time.Now())
		case <-watchDone:
		}
	}()

	sess.log.Debug().Msg("session opened")
	maxLine := sess.srv.cfg.Security.MaxLineBytes
	reader := bufio.NewReaderSize(sess.conn, maxLine+2)

	for {
		if ctx.Err() != nil {
			sess.log.Debug().Msg("session closed by shutdown")
			return
		}
		_ = sess.conn.SetReadDeadline(time.Now().Add(sess.srv.cfg.IdleTimeout()))
		line, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			// Oversize line: drop it whole, keep the connection usable.
			sess.srv.counters.recordTotal()
			sess.srv.counters.recordMalformed()
			observability.RecordMessage(observability.ResultMalformed)
			sess.log.Debug().Int("limit", maxLine).Msg("oversize line dropped")
			if !sess.drainLine(reader) {
				return
			}
			continue
		}
		if err != nil {
			sess.closeOnReadError(ctx, err)
			return
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		sess.messages++
		sess.handleLine(line)
	}
}

// drainLine discards the remainder of an over-long line, reporting whether
// the connection is still readable.
func (sess *session) drainLine(reader *bufio.Reader) bool {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return true
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return false
	}
}

func (sess *session) closeOnReadError(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil || errors.Is(err, net.ErrClosed):
		sess.log.Debug().Msg("session closed by shutdown")
	case errors.Is(err, io.EOF):
		sess.log.Debug().
			Int64("messages", sess.messages).
			Msg("session closed by peer")
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			sess.log.Debug().
				Dur("idle_timeout", sess.srv.cfg.IdleTimeout()).
				Msg("session idle timeout")
			return
		}
		sess.log.Warn().Err(err).Msg("session read failed")
	}
}

// handleLine runs one line through the admission pipeline: rate check,
// size check, decode, validate, then command dispatch or store upsert.
// Rejections are counted and dropped; the protocol has no response channel.
func (sess *session) handleLine(line []byte) {
	counters := &sess.srv.counters
	counters.recordTotal()

	if !sess.window.Allow(time.Now()) {
		counters.recordRateLimited()
		observability.RecordMessage(observability.ResultRateLimited)
		sess.log.Debug().Msg("rate limited line dropped")
		return
	}
	if len(line) > sess.srv.cfg.Security.MaxLineBytes {
		counters.recordMalformed()
		observability.RecordMessage(observability.ResultMalformed)
		sess.log.Debug().Int("bytes", len(line)).Msg("oversize line dropped")
		return
	}
	msg, err := protocol.Decode(line)
	if err != nil {
		counters.recordMalformed()
		observability.RecordMessage(observability.ResultMalformed)
		sess.log.Debug().Err(err).Msg("malformed line dropped")
		return
	}
	if err := sess.srv.validator.Validate(msg); err != nil {
		counters.recordMalformed()
		observability.RecordMessage(observability.ResultMalformed)
		sess.log.Debug().Err(err).Msg("invalid message dropped")
		return
	}

	if msg.IsCommand() {
		counters.recordProcessed()
		observability.RecordMessage(observability.ResultCommand)
		sess.srv.dispatch(msg.CommandName(), sess)
		return
	}

	sess.applyGraphic(msg)
	counters.recordProcessed()
	observability.RecordMessage(observability.ResultAccepted)
}

// applyGraphic upserts the graphic keyed by msg.ID, or removes it when a
// text-kind update carries no text (the protocol's deletion signal).
func (sess *session) applyGraphic(msg protocol.Message) {
	g := graphicFromMessage(msg, sess.remote)
	if g.Kind == store.KindText && g.Text == "" {
		if sess.srv.store.Remove(g.ID) {
			sess.log.Debug().Str("id", g.ID).Msg("graphic removed by empty text")
		}
		observability.SetLiveGraphics(sess.srv.store.Len())
		return
	}
	sess.srv.store.Upsert(g)
	observability.SetLiveGraphics(sess.srv.store.Len())
	sess.log.Debug().
		Str("id", g.ID).
		Str("kind", string(g.Kind)).
		Int("ttl", g.TTLSeconds).
		Msg("graphic upserted")
}

// graphicFromMessage maps a validated wire message onto a store graphic,
// applying the renderer defaults for color and size.
func graphicFromMessage(msg protocol.Message, clientID string) store.Graphic {
	g := store.Graphic{
		ID:       msg.ID,
		Kind:     store.KindText,
		Color:    "white",
		Size:     protocol.SizeNormal,
		ClientID: clientID,
	}
	switch {
	case len(msg.Vector) > 0 || (msg.Shape != nil && *msg.Shape == protocol.ShapeVector):
		g.Kind = store.KindVector
	case msg.Shape != nil && *msg.Shape == protocol.ShapeRect:
		g.Kind = store.KindRect
	}
	if msg.Text != nil {
		g.Text = *msg.Text
	}
	if msg.Size != nil {
		g.Size = *msg.Size
	}
	if msg.Color != nil {
		g.Color = *msg.Color
	}
	if msg.Fill != nil {
		g.Fill = *msg.Fill
	}
	if msg.X != nil {
		g.X = *msg.X
	}
	if msg.Y != nil {
		g.Y = *msg.Y
	}
	if msg.W != nil {
		g.W = *msg.W
	}
	if msg.H != nil {
		g.H = *msg.H
	}
	if msg.TTL != nil {
		g.TTLSeconds = int(*msg.TTL)
	}
	for _, point := range msg.Vector {
		vp := store.VectorPoint{X: *point.X, Y: *point.Y}
		if point.Color != nil {
			vp.Color = *point.Color
		}
		if point.Marker != nil {
			vp.Marker = *point.Marker
		}
		if point.Text != nil {
			vp.Text = *point.Text
		}
		g.Vector = append(g.Vector, vp)
	}
	return g
}
