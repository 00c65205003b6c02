package domain

import (
	"maps"
	"net/url"
	"strings"
	"time"
)

const (
	defaultDateRange = "last_30_days"
	defaultHashtag   = "#feedback"
	defaultFormID    = "default_form"
)

// Apply は観測したタスク状態をレコードに適用します
// ステータスは恒等写像で単調に進み、同じ応答の再適用では changed=false を返します
func Apply(src DataSource, resp TaskStatus, now time.Time) (DataSource, bool) {
	if src.Status.IsTerminal() {
		return src, false
	}

	next := src
	next.Metadata = Reconcile(src.Metadata, resp, now)

	if status, ok := ParseRemoteStatus(resp.Status); ok && status != src.Status && CanTransition(src.Status, status) {
		next.Status = status
		next.LastUpdated = now
	}

	changed := next.Status != src.Status || !next.Metadata.Equal(src.Metadata)
	return next, changed
}

// BuildPipelineRequest は統合パイプラインへの投入リクエストを組み立てます
func BuildPipelineRequest(src DataSource) PipelineRequest {
	cfg := make(map[string]any, len(src.Metadata.Extra)+1)
	maps.Copy(cfg, src.Metadata.Extra)
	cfg["url"] = src.URL

	return PipelineRequest{
		SourceID: src.ID.String(),
		Config: map[string]map[string]any{
			string(src.Type): cfg,
		},
	}
}

// BuildCollectorRequest はコレクター直接投入用のリクエストを組み立てます
// 未指定の項目はコレクターの既定値で補います
func BuildCollectorRequest(src DataSource) CollectorRequest {
	extra := src.Metadata.Extra
	req := CollectorRequest{SourceID: src.ID.String()}

	switch src.Type {
	case SourceTypeSocial:
		platform := stringOption(extra, "platform")
		if platform == "" {
			platform = socialPlatform(src.URL)
		}
		hashtags := stringsOption(extra, "hashtags")
		if len(hashtags) == 0 {
			hashtags = []string{defaultHashtag}
		}
		req.Config.Social = &SocialCollectorConfig{
			Platform:  platform,
			Hashtags:  hashtags,
			DateRange: orDefault(stringOption(extra, "date_range"), defaultDateRange),
		}
	case SourceTypeReviews:
		websites := stringsOption(extra, "websites")
		if len(websites) == 0 {
			websites = []string{reviewSite(src.URL)}
		}
		req.Config.Review = &ReviewCollectorConfig{
			Websites:  websites,
			DateRange: orDefault(stringOption(extra, "date_range"), defaultDateRange),
		}
	case SourceTypeSurvey:
		var filesDir *string
		if dir := stringOption(extra, "files_dir"); dir != "" {
			filesDir = &dir
		}
		endpoints := stringsOption(extra, "api_endpoints")
		if endpoints == nil {
			endpoints = []string{}
		}
		req.Config.Survey = &SurveyCollectorConfig{
			FormID:       orDefault(stringOption(extra, "form_id"), defaultFormID),
			FilesDir:     filesDir,
			APIEndpoints: endpoints,
		}
	default:
		forum := make(map[string]any, len(extra)+1)
		maps.Copy(forum, extra)
		forum["url"] = src.URL
		req.Config.Forum = forum
	}

	return req
}

// WantsFileUpload はアンケートのファイル取り込みを要求しているかを返します
func WantsFileUpload(src DataSource) bool {
	return src.Type == SourceTypeSurvey && stringOption(src.Metadata.Extra, "files_dir") != ""
}

func socialPlatform(rawURL string) string {
	host := hostOf(rawURL)
	switch {
	case strings.Contains(host, "twitter") || host == "x.com" || strings.HasSuffix(host, ".x.com"):
		return "Twitter"
	case strings.Contains(host, "facebook"):
		return "Facebook"
	case strings.Contains(host, "instagram"):
		return "Instagram"
	case strings.Contains(host, "reddit"):
		return "Reddit"
	case strings.Contains(host, "youtube"):
		return "YouTube"
	case strings.Contains(host, "linkedin"):
		return "LinkedIn"
	default:
		return "Twitter"
	}
}

func reviewSite(rawURL string) string {
	host := hostOf(rawURL)
	switch {
	case strings.Contains(host, "trustpilot"):
		return "Trustpilot"
	case strings.Contains(host, "yelp"):
		return "Yelp"
	case strings.Contains(host, "tripadvisor"):
		return "TripAdvisor"
	case strings.Contains(host, "amazon"):
		return "Amazon"
	default:
		return "Google"
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func stringOption(extra map[string]any, key string) string {
	if s, ok := extra[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func stringsOption(extra map[string]any, key string) []string {
	switch v := extra[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
