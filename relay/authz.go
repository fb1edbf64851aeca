package relay

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/pkg/auth"
	"github.com/papercomputeco/staffdesk/pkg/llm"
)

const subjectKey = "subject"

// requireAuth verifies the bearer token when an auth secret is configured and
// passes every request through otherwise.
func (r *Relay) requireAuth(c *fiber.Ctx) error {
	if r.auth == nil {
		return c.Next()
	}

	claims, err := r.auth.Verify(auth.BearerToken(c.Get(fiber.HeaderAuthorization)))
	if err != nil {
		r.logger.Info("rejected bearer token",
			zap.String("request_id", getRequestID(c)),
			zap.Error(err),
		)
		return r.fail(c, llm.NewError(llm.CodeUnauthorized, "missing or invalid bearer token", err))
	}

	c.Locals(subjectKey, claims.Subject)
	return c.Next()
}
