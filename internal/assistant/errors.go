package assistant

import (
	"context"
	"errors"
	"net"
	"os/exec"
	"strings"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/resilience"
)

var (
	ErrUnreachable       = errors.New("assistant: unreachable")
	ErrQuotaExceeded     = errors.New("assistant: quota exceeded")
	ErrMalformedResponse = errors.New("assistant: malformed response")
	ErrInactive          = errors.New("assistant: session is not active")
)

// Category groups assistant failures the way users are told about them
type Category string

const (
	CategoryNone        Category = ""
	CategoryUnreachable Category = "unreachable"
	CategoryQuota       Category = "quota_exceeded"
	CategoryMalformed   Category = "malformed_response"
	CategoryTimeout     Category = "timeout"
	CategoryCancelled   Category = "cancelled"
	CategoryUnknown     Category = "unknown"
)

// Classify maps an assistant error onto a failure category
func Classify(err error) Category {
	var netErr net.Error

	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrQuotaExceeded):
		return CategoryQuota
	case errors.Is(err, ErrMalformedResponse):
		return CategoryMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, context.Canceled):
		return CategoryCancelled
	case errors.Is(err, ErrUnreachable),
		errors.Is(err, ErrInactive),
		errors.Is(err, exec.ErrNotFound),
		resilience.IsRejection(err),
		errors.As(err, &netErr):
		return CategoryUnreachable
	}
	return CategoryUnknown
}

// Describe renders a failure as the text of a terminating chat chunk
func Describe(err error) string {
	switch Classify(err) {
	case CategoryNone:
		return ""
	case CategoryUnreachable:
		if errors.Is(err, ErrInactive) {
			return "Assistant unavailable: this session has no active assistant."
		}
		return "Assistant unreachable: the assistant could not be contacted. Please try again shortly."
	case CategoryQuota:
		return "Assistant quota exceeded: check your plan or try again later."
	case CategoryMalformed:
		return "Assistant response could not be read: the assistant returned malformed output."
	case CategoryTimeout:
		return "Assistant timed out before finishing its answer."
	case CategoryCancelled:
		return "Assistant request was cancelled."
	}
	return "Assistant failed: " + err.Error()
}

// quotaHint spots rate and usage limit messages in free-form backend output
func quotaHint(s string) bool {
	s = strings.ToLower(s)
	for _, marker := range []string{"rate limit", "rate_limit", "usage limit", "quota", "429"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
