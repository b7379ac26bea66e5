package discord

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	syncerrors "guildmirror/internal/errors"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func restError(status, jsonCode int, header http.Header) *discordgo.RESTError {
	if header == nil {
		header = http.Header{}
	}
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status, Header: header},
		Message:  &discordgo.APIErrorMessage{Code: jsonCode},
	}
}

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, Classify(nil))
}

func TestClassifyREST(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syncerrors.Class
	}{
		{"forbidden", restError(http.StatusForbidden, 0, nil), syncerrors.ClassAccessDenied},
		{"missing access code", restError(http.StatusBadRequest, 50001, nil), syncerrors.ClassAccessDenied},
		{"missing permissions code", restError(http.StatusNotFound, 50013, nil), syncerrors.ClassAccessDenied},
		{"not found", restError(http.StatusNotFound, 0, nil), syncerrors.ClassNotFound},
		{"payload too large", restError(http.StatusRequestEntityTooLarge, 0, nil), syncerrors.ClassPayloadTooLarge},
		{"too many requests", restError(http.StatusTooManyRequests, 0, nil), syncerrors.ClassRateLimited},
		{"server error", restError(http.StatusBadGateway, 0, nil), syncerrors.ClassTransientNetwork},
		{"other rejection", restError(http.StatusBadRequest, 0, nil), syncerrors.ClassUnrecoverable},
		{"plain error", fmt.Errorf("boom"), syncerrors.ClassUnrecoverable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, syncerrors.GetClass(Classify(tt.err)))
		})
	}
}

func TestClassifyRateLimitHint(t *testing.T) {
	err := Classify(&discordgo.RateLimitError{
		RateLimit: &discordgo.RateLimit{TooManyRequests: &discordgo.TooManyRequests{}, URL: "/x"},
	})
	assert.Equal(t, syncerrors.ClassRateLimited, syncerrors.GetClass(err))

	header := http.Header{}
	header.Set("Retry-After", "3")
	err = Classify(restError(http.StatusTooManyRequests, 0, header))
	hint, ok := syncerrors.RetryAfterHint(err)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, hint)
}
