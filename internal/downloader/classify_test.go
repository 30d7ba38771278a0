package downloader

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hiddenprotocol/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  string
		want domain.FailureCategory
	}{
		{"[TikTok] 1: This video is age-restricted", domain.FailureRegionOrAgeRestricted},
		{"Sign in to confirm your age", domain.FailureRegionOrAgeRestricted},
		{"This video is not available in your country", domain.FailureRegionOrAgeRestricted},
		{"This content is Not Available In Your Region", domain.FailureRegionOrAgeRestricted},
		{"[Instagram] Cx1: Connection timed out", domain.FailureUpstreamTimeout},
		{"Read timeout while talking to www.INSTAGRAM.com", domain.FailureUpstreamTimeout},
		{"[TikTok] Connection timed out", domain.FailureUnknown},
		{"HTTP Error 404: Not Found", domain.FailureNotFound},
		{"Unsupported URL: https://example.com", domain.FailureUnsupportedFormat},
		{"No suitable format found", domain.FailureUnsupportedFormat},
		{"Requested format is not available", domain.FailureUnsupportedFormat},
		{"something exploded", domain.FailureUnknown},
		{"", domain.FailureUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.raw))
		})
	}
}

func TestUserMessage_NeverEmpty(t *testing.T) {
	for _, c := range []domain.FailureCategory{
		domain.FailureRegionOrAgeRestricted,
		domain.FailureUpstreamTimeout,
		domain.FailureNotFound,
		domain.FailureUnsupportedFormat,
		domain.FailureUnknown,
		domain.FailureCategory("something-new"),
	} {
		assert.NotEmpty(t, UserMessage(c), c)
	}
	assert.Equal(t, "content not found or removed", UserMessage(domain.FailureNotFound))
	assert.Equal(t, "download or delivery failed, service may be unavailable", UserMessage("bogus"))
}
