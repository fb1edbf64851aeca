package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/pkg/backend"
	"github.com/papercomputeco/staffdesk/pkg/llm"
)

const (
	contentTypeText   = "text/plain; charset=utf-8"
	contentTypeNDJSON = "application/x-ndjson"
)

const (
	// archiveTimeout bounds storing a finished turn after the reply was sent.
	archiveTimeout = 5 * time.Second

	// writeGrace is how long past the max duration a reply may spend
	// draining to a slow caller before the connection is dropped.
	writeGrace = 2 * time.Second
)

// exchange is one in-flight chat request.
type exchange struct {
	id      string
	req     *llm.ChatRequest
	ndjson  bool
	start   time.Time
	stream  backend.Stream
	subject string
}

// handleChat relays a conversation to the backend and streams the reply.
//
// The first chunk is awaited before the status line is written, so that a
// backend failing up front still yields a proper error status while the time
// to first byte tracks the backend's time to first token. From then on every
// chunk is flushed as it arrives and nothing can be taken back: a failure mid
// stream ends the response early.
func (r *Relay) handleChat(c *fiber.Ctx) error {
	stats.Add(statRequests, 1)
	id := getRequestID(c)

	req, err := llm.DecodeChatRequest(c.Body())
	if err != nil {
		stats.Add(statRejected, 1)
		r.logger.Info("rejected chat request", zap.String("request_id", id), zap.Error(err))
		return r.fail(c, err)
	}

	s := r.settings.Load()
	if req.Model == "" || !s.allowOverride {
		req.Model = s.model
	}
	req.Options = req.Options.Merge(s.options)

	ex := &exchange{
		id:     id,
		req:    req,
		ndjson: wantsNDJSON(c),
		start:  time.Now(),
	}
	ex.subject, _ = c.Locals(subjectKey).(string)

	r.logger.Debug("received chat request",
		zap.String("request_id", id),
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
		zap.Bool("ndjson", ex.ndjson),
	)

	// The stream outlives this handler: fasthttp runs the body writer after
	// it returns, so the exchange gets its own deadline-bound context.
	ctx, cancel := context.WithTimeout(context.Background(), s.maxDuration)

	stream, err := r.backend.Stream(ctx, req)
	if err != nil {
		cancel()
		return r.failBeforeStream(c, ex, err)
	}
	ex.stream = stream

	first, err := stream.Recv()
	if err != nil {
		stream.Close()
		cancel()
		if errors.Is(err, io.EOF) {
			err = llm.BackendInterruptedError("stream ended before any output", io.ErrUnexpectedEOF)
		}
		return r.failBeforeStream(c, ex, err)
	}

	stats.Add(statActive, 1)
	c.Status(fiber.StatusOK)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")
	if ex.ndjson {
		c.Set(fiber.HeaderContentType, contentTypeNDJSON)
	} else {
		c.Set(fiber.HeaderContentType, contentTypeText)
	}

	// The backend context alone cannot end a flush blocked on a caller that
	// stopped reading. The write deadline stays on the connection, so it is
	// not reused for another request.
	if conn := c.Context().Conn(); conn != nil {
		if err := conn.SetWriteDeadline(ex.start.Add(s.maxDuration + writeGrace)); err != nil {
			r.logger.Warn("could not set write deadline", zap.String("request_id", id), zap.Error(err))
		}
	}
	c.Context().SetConnectionClose()

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer stats.Add(statActive, -1)
		defer cancel()
		defer stream.Close()

		r.pump(w, ex, first)
	}))

	return nil
}

// pump forwards chunks until the backend finishes, fails or the caller goes
// away, then closes out the exchange.
func (r *Relay) pump(w *bufio.Writer, ex *exchange, chunk llm.StreamChunk) {
	var (
		text   strings.Builder
		chunks int
		final  *llm.StreamChunk
		reason = llm.DoneStop
		err    error
	)

	for {
		if chunk.Done {
			c := chunk
			final = &c
			break
		}

		if chunk.Message.Content != "" {
			text.WriteString(chunk.Message.Content)
			chunks++
			if werr := r.emit(w, ex, chunk); werr != nil {
				// Writes only fail once the caller is gone.
				reason = llm.DoneCanceled
				err = werr
				stats.Add(statDisconnects, 1)
				break
			}
			stats.Add(statBytes, int64(len(chunk.Message.Content)))
		}

		chunk, err = ex.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = llm.BackendInterruptedError("stream ended without end marker", io.ErrUnexpectedEOF)
			}
			reason = llm.DoneReasonFor(err)
			break
		}
	}

	if reason != llm.DoneCanceled && ex.ndjson {
		if final == nil {
			done := llm.DoneChunk(ex.req.Model, reason, nil)
			final = &done
		}
		_ = r.emit(w, ex, *final)
	}

	fields := []zap.Field{
		zap.String("request_id", ex.id),
		zap.String("model", ex.req.Model),
		zap.String("subject", ex.subject),
		zap.String("done_reason", string(reason)),
		zap.Int("chunks", chunks),
		zap.Int("bytes", text.Len()),
		zap.Duration("duration", time.Since(ex.start)),
	}
	if !reason.Complete() {
		stats.Add(statTruncated, 1)
		r.logger.Warn("stream truncated", append(fields, zap.Error(err))...)
		return
	}

	stats.Add(statCompleted, 1)
	r.logger.Info("stream complete", fields...)

	if r.archive != nil {
		var usage *llm.Usage
		if final != nil {
			usage = final.Usage
		}
		r.archiveTurn(ex, llm.Message{Role: llm.RoleAssistant, Content: text.String()}, usage)
	}
}

// emit writes one chunk in the exchange's format and flushes it.
func (r *Relay) emit(w *bufio.Writer, ex *exchange, chunk llm.StreamChunk) error {
	if ex.ndjson {
		line, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	} else if _, err := w.WriteString(chunk.Message.Content); err != nil {
		return err
	}

	r.logger.Debug("streaming chunk",
		zap.String("request_id", ex.id),
		zap.Bool("done", chunk.Done),
		zap.String("content", llm.Truncate(chunk.Message.Content, 50)),
	)
	return w.Flush()
}

func (r *Relay) failBeforeStream(c *fiber.Ctx, ex *exchange, err error) error {
	stats.Add(statTruncated, 1)
	r.logger.Error("backend stream failed before first chunk",
		zap.String("request_id", ex.id),
		zap.String("backend", r.backend.Name()),
		zap.Duration("duration", time.Since(ex.start)),
		zap.Error(err),
	)
	if llm.CodeOf(err) == llm.CodeInternal {
		err = llm.BackendUnavailableError("backend failed", err)
	}
	return r.fail(c, err)
}

func (r *Relay) archiveTurn(ex *exchange, reply llm.Message, usage *llm.Usage) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	head, err := storeConversationTurn(ctx, r.archive, llm.ConversationTurn{
		Model:    ex.req.Model,
		Backend:  r.backend.Name(),
		Request:  ex.req.Messages,
		Response: reply,
		Usage:    usage,
	})
	if err != nil {
		r.logger.Error("failed to archive conversation", zap.String("request_id", ex.id), zap.Error(err))
		return
	}
	r.logger.Debug("conversation archived",
		zap.String("request_id", ex.id),
		zap.String("head_hash", llm.Truncate(head, 16)),
	)
}

// wantsNDJSON reports whether the caller asked for framed output.
func wantsNDJSON(c *fiber.Ctx) bool {
	if c.Query("format") == "ndjson" {
		return true
	}
	return strings.Contains(c.Get(fiber.HeaderAccept), contentTypeNDJSON)
}
