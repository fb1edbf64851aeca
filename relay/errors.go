package relay

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/pkg/llm"
)

const requestIDHeader = "X-Request-ID"

// requestID tags every exchange with an id, reusing the caller's when given.
func requestID(c *fiber.Ctx) error {
	id := c.Get(requestIDHeader)
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	c.Locals(requestIDHeader, id)
	c.Set(requestIDHeader, id)
	return c.Next()
}

func getRequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDHeader).(string)
	return id
}

// statusFor maps an error code to the HTTP status sent before streaming.
func statusFor(code llm.ErrorCode) int {
	switch code {
	case llm.CodeValidation:
		return fiber.StatusBadRequest
	case llm.CodeUnauthorized:
		return fiber.StatusUnauthorized
	case llm.CodeNotFound:
		return fiber.StatusNotFound
	case llm.CodeArchiveDisabled:
		return fiber.StatusServiceUnavailable
	case llm.CodeBackendUnavailable, llm.CodeBackendInterrupted:
		return fiber.StatusBadGateway
	case llm.CodeTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// fail writes the JSON error reply for err.
func (r *Relay) fail(c *fiber.Ctx, err error) error {
	code := llm.CodeOf(err)
	msg := err.Error()
	var e *llm.Error
	if errors.As(err, &e) {
		msg = e.Reason
	}
	if code == llm.CodeInternal {
		msg = "internal error"
	}
	return c.Status(statusFor(code)).JSON(llm.ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: getRequestID(c),
	})
}

// handleError renders errors returned by handlers and fiber itself (unknown
// routes, oversized bodies) in the relay's JSON error shape.
func (r *Relay) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := llm.CodeInternal
		switch {
		case fe.Code == fiber.StatusNotFound:
			code = llm.CodeNotFound
		case fe.Code < 500:
			code = llm.CodeValidation
		}
		return c.Status(fe.Code).JSON(llm.ErrorResponse{
			Error:     fe.Message,
			Code:      code,
			RequestID: getRequestID(c),
		})
	}

	r.logger.Error("unhandled error", zap.String("request_id", getRequestID(c)), zap.Error(err))
	return r.fail(c, err)
}
