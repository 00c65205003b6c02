package domain

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// minNameLength はデータソース名の最小文字数です
const minNameLength = 2

// allowedHosts は種別ごとの対応プラットフォームです
// 掲載のない種別（forum / website）は任意のホストを許可します
var allowedHosts = map[SourceType][]string{
	SourceTypeSocial: {
		"facebook.com", "instagram.com", "reddit.com", "youtube.com", "twitter.com", "x.com", "linkedin.com",
	},
	SourceTypeReviews: {
		"trustpilot.com", "yelp.com", "google.com", "tripadvisor.com", "amazon.com",
	},
	SourceTypeSurvey: {
		"surveymonkey.com", "typeform.com", "google.com", "forms.office.com", "qualtrics.com",
	},
}

// AllowedHosts は種別の許可ホスト一覧を返します（制限なしの場合は nil）
func AllowedHosts(t SourceType) []string {
	return allowedHosts[t]
}

// SubmitParams はジョブ投入の入力です
type SubmitParams struct {
	Name      string
	URL       string
	Type      SourceType
	ProjectID *uuid.UUID
	Metadata  map[string]any
}

// Validate は投入内容を検証し、最初に見つかった不備を ValidationError で返します
func Validate(p SubmitParams) error {
	if len([]rune(strings.TrimSpace(p.Name))) < minNameLength {
		return &ValidationError{Field: "name", Reason: "must be at least 2 characters"}
	}

	sourceType, err := ParseSourceType(string(p.Type))
	if err != nil {
		return &ValidationError{Field: "type", Reason: err.Error()}
	}

	u, err := url.Parse(strings.TrimSpace(p.URL))
	if err != nil {
		return &ValidationError{Field: "url", Reason: "not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	if u.Hostname() == "" {
		return &ValidationError{Field: "url", Reason: "host is required"}
	}

	if hosts := allowedHosts[sourceType]; hosts != nil && !hostAllowed(u.Hostname(), hosts) {
		return &ValidationError{
			Field:  "url",
			Reason: "host " + u.Hostname() + " is not a supported " + string(sourceType) + " platform",
		}
	}

	return nil
}

// hostAllowed はホストが許可ドメインそのものかサブドメインかを判定します
func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, domain := range allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
