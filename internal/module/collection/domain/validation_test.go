package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		params    domain.SubmitParams
		wantField string
	}{
		{
			name:   "forum accepts any http host",
			params: domain.SubmitParams{Name: "Launch Feedback", URL: "https://forum.example.com/t/123", Type: domain.SourceTypeForum},
		},
		{
			name:   "website accepts plain http",
			params: domain.SubmitParams{Name: "Site", URL: "http://example.org", Type: domain.SourceTypeWebsite},
		},
		{
			name:   "social subdomain of allowed platform",
			params: domain.SubmitParams{Name: "Reddit thread", URL: "https://www.reddit.com/r/golang", Type: domain.SourceTypeSocial},
		},
		{
			name:   "reviews on trustpilot",
			params: domain.SubmitParams{Name: "Reviews", URL: "https://trustpilot.com/review/acme", Type: domain.SourceTypeReviews},
		},
		{
			name:   "survey on forms.office.com",
			params: domain.SubmitParams{Name: "NPS", URL: "https://forms.office.com/r/abc", Type: domain.SourceTypeSurvey},
		},
		{
			name:      "name too short",
			params:    domain.SubmitParams{Name: " a ", URL: "https://forum.example.com", Type: domain.SourceTypeForum},
			wantField: "name",
		},
		{
			name:      "unknown type",
			params:    domain.SubmitParams{Name: "Podcast", URL: "https://example.com", Type: "podcast"},
			wantField: "type",
		},
		{
			name:      "not a url",
			params:    domain.SubmitParams{Name: "Forum", URL: "forum.example.com", Type: domain.SourceTypeForum},
			wantField: "url",
		},
		{
			name:      "ftp scheme",
			params:    domain.SubmitParams{Name: "Forum", URL: "ftp://forum.example.com", Type: domain.SourceTypeForum},
			wantField: "url",
		},
		{
			name:      "social rejects arbitrary host",
			params:    domain.SubmitParams{Name: "Social", URL: "https://example.com", Type: domain.SourceTypeSocial},
			wantField: "url",
		},
		{
			name:      "social rejects lookalike host",
			params:    domain.SubmitParams{Name: "Social", URL: "https://notfacebook.com/page", Type: domain.SourceTypeSocial},
			wantField: "url",
		},
		{
			name:      "survey rejects arbitrary host",
			params:    domain.SubmitParams{Name: "Survey", URL: "https://surveys.example.com/form", Type: domain.SourceTypeSurvey},
			wantField: "url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.Validate(tt.params)
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}

			var vErr *domain.ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}

func TestParseSourceType(t *testing.T) {
	st, err := domain.ParseSourceType(" Reviews ")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTypeReviews, st)

	_, err = domain.ParseSourceType("newsletter")
	assert.Error(t, err)
}
