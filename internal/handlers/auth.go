package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller, parsed from the bearer JWT's
// claims. A student's Subject is their studentRef; an instructor's
// CourseRefs lists the courses they may read sessions for (§4.9).
type Principal struct {
	Subject     string
	Role        string
	CourseRefs  []string
}

func (p Principal) isInstructor() bool { return p.Role == "instructor" }

func (p Principal) scopedToCourse(courseRef string) bool {
	for _, c := range p.CourseRefs {
		if c == courseRef {
			return true
		}
	}
	return false
}

const principalLocalsKey = "cac_principal"

// RequireAuth validates the bearer JWT and stores the resulting
// Principal in c.Locals for downstream handlers.
func RequireAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		principal := Principal{Role: "student"}
		if sub, ok := claims["sub"].(string); ok {
			principal.Subject = sub
		}
		if role, ok := claims["role"].(string); ok {
			principal.Role = role
		}
		if courses, ok := claims["courseRefs"].([]interface{}); ok {
			for _, cr := range courses {
				if s, ok := cr.(string); ok {
					principal.CourseRefs = append(principal.CourseRefs, s)
				}
			}
		}
		if principal.Subject == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "token missing subject")
		}

		c.Locals(principalLocalsKey, principal)
		return c.Next()
	}
}

func principalFrom(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals(principalLocalsKey).(Principal)
	return p, ok
}

// authorizeSessionAccess enforces §4.9: a student may operate only on
// their own sessions; an instructor may read any session scoped to
// their course. writeOp marks the endpoints only the owning student may
// call (respond, retry); the get, grade and audit endpoints pass false,
// so a course-scoped instructor may also use them.
func authorizeSessionAccess(principal Principal, studentRef, courseRef string, writeOp bool) bool {
	if principal.Subject == studentRef {
		return true
	}
	if writeOp {
		return false
	}
	return principal.isInstructor() && principal.scopedToCourse(courseRef)
}
