// Package discord classifies raw discordgo transport failures into the
// synchronization error taxonomy. Both connectors route every REST error
// through Classify before it reaches the services.
package discord

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	syncerrors "guildmirror/internal/errors"

	"github.com/bwmarrin/discordgo"
)

// Discord JSON error codes that signal a permission problem regardless of
// the HTTP status.
const (
	jsonCodeMissingAccess      = 50001
	jsonCodeMissingPermissions = 50013
)

// Classify maps a discordgo error onto the taxonomy. nil stays nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return syncerrors.Wrap(err, syncerrors.ClassRateLimited, "rate limited").
			WithRetryAfter(rateErr.RetryAfter)
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		return classifyREST(err, restErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return syncerrors.Wrap(err, syncerrors.ClassTransientNetwork, "request timed out")
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return syncerrors.Wrap(err, syncerrors.ClassTransientNetwork, "network failure")
	}

	return syncerrors.Wrap(err, syncerrors.ClassUnrecoverable, "unclassified connector failure")
}

func classifyREST(err error, restErr *discordgo.RESTError) error {
	var status int
	if restErr.Response != nil {
		status = restErr.Response.StatusCode
	}
	var jsonCode int
	if restErr.Message != nil {
		jsonCode = restErr.Message.Code
	}

	switch {
	case jsonCode == jsonCodeMissingAccess || jsonCode == jsonCodeMissingPermissions:
		return syncerrors.Wrap(err, syncerrors.ClassAccessDenied, "missing access")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return syncerrors.Wrap(err, syncerrors.ClassAccessDenied, "access denied")
	case status == http.StatusNotFound:
		return syncerrors.Wrap(err, syncerrors.ClassNotFound, "entity not found")
	case status == http.StatusRequestEntityTooLarge:
		return syncerrors.Wrap(err, syncerrors.ClassPayloadTooLarge, "payload too large")
	case status == http.StatusTooManyRequests:
		return syncerrors.Wrap(err, syncerrors.ClassRateLimited, "rate limited").
			WithRetryAfter(retryAfterHeader(restErr))
	case status >= 500:
		return syncerrors.Wrap(err, syncerrors.ClassTransientNetwork, "upstream server error")
	default:
		return syncerrors.Wrap(err, syncerrors.ClassUnrecoverable, "request rejected")
	}
}

func retryAfterHeader(restErr *discordgo.RESTError) time.Duration {
	if restErr.Response == nil {
		return 0
	}
	raw := restErr.Response.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if d, err := time.ParseDuration(raw + "s"); err == nil {
		return d
	}
	return 0
}
