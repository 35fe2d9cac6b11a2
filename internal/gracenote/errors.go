// SPDX-License-Identifier: MIT

package gracenote

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	// ErrTransient marks failures worth retrying (timeouts, 5xx, provider
	// blocking); ErrPermanent marks failures that retrying cannot fix
	// (auth, not-found) and skips the day unit.
	ErrTransient = errors.New("gracenote: transient fetch failure")
	ErrPermanent = errors.New("gracenote: permanent fetch failure")

	// ErrBadResponse marks a 200 response whose body is not grid JSON.
	// It is a transient class: truncated proxy bodies deserve a retry.
	ErrBadResponse = fmt.Errorf("gracenote: invalid response format: %w", ErrTransient)
)

// APIError wraps the sentinel errors with request context.
type APIError struct {
	Class     error // ErrTransient, ErrPermanent or ErrBadResponse
	Operation string
	Status    int
	Blocked   bool // provider firewall challenge detected
	Body      string
	Err       error // nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("gracenote: %s: %v", e.Operation, e.Class)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Blocked {
		msg += " [blocked]"
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Class
}

// wafIndicators are response fragments that identify a provider firewall
// challenge page rather than real payload data.
var wafIndicators = []string{
	"human verification",
	"captcha-container",
	"awswafintegration",
	"403 forbidden",
	"access denied",
	"challenge.js",
	"cloudflare",
	"ddos protection",
	"rate limit exceeded",
	"too many requests",
}

// isBlockedBody reports whether the response body looks like a firewall
// challenge page.
func isBlockedBody(body string) bool {
	lower := strings.ToLower(body)
	for _, ind := range wafIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// classifyStatus maps an HTTP status and body to an error class.
// 403/429/503 and challenge bodies are provider blocking: transient, but
// flagged so the pacer can back off harder. Remaining 4xx are permanent.
func classifyStatus(status int, body string) (class error, blocked bool) {
	switch {
	case status == 403 || status == 429 || status == 503:
		return ErrTransient, true
	case status >= 500:
		return ErrTransient, false
	case status >= 400:
		return ErrPermanent, false
	}
	if isBlockedBody(body) {
		return ErrTransient, true
	}
	return nil, false
}
