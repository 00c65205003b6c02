package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

const (
	// DefaultBaseURL は解析サービスのデフォルトのベースURL
	DefaultBaseURL = "http://0.0.0.0:8000/api/v1"

	// DefaultTimeout は1リクエストのデフォルトタイムアウト
	DefaultTimeout = 30 * time.Second

	// maxErrorBody はエラーメッセージに含めるレスポンス本文の上限
	maxErrorBody = 4096
)

// APIError は解析サービスが2xx以外を返した場合のエラーです
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed: %s %s: %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Client はリモート解析サービスのHTTPクライアントです
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption はClientの設定オプション
type ClientOption func(*Client)

// WithHTTPClient はHTTPクライアントを差し替えます
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout はリクエストタイムアウトを設定します
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithClientLogger はロガーを設定します
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient は新しいClientを作成します
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute: %q", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ domain.AnalysisClient = (*Client)(nil)

// RunPipeline は POST /pipeline で統合パイプラインを投入します
func (c *Client) RunPipeline(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, error) {
	var resp domain.PipelineResponse
	if err := c.doJSON(ctx, http.MethodPost, "/pipeline", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to run pipeline: %w", err)
	}
	return &resp, nil
}

// Collect は POST /collect（ファイル添付時は /collect/survey-files）で収集を開始します
func (c *Client) Collect(ctx context.Context, req domain.CollectorRequest, withFiles bool) (*domain.PipelineResponse, error) {
	path := "/collect"
	if withFiles {
		path = "/collect/survey-files"
	}
	var resp domain.PipelineResponse
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to start collection: %w", err)
	}
	return &resp, nil
}

// Process は POST /process/{collection_task_id} で前処理を開始します
func (c *Client) Process(ctx context.Context, collectionTaskID string) (*domain.PipelineResponse, error) {
	var resp domain.PipelineResponse
	if err := c.doJSON(ctx, http.MethodPost, "/process/"+url.PathEscape(collectionTaskID), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to start processing: %w", err)
	}
	return &resp, nil
}

// Analyze は POST /analyze/{processing_task_id} で分析を開始します
func (c *Client) Analyze(ctx context.Context, processingTaskID string) (*domain.PipelineResponse, error) {
	var resp domain.PipelineResponse
	if err := c.doJSON(ctx, http.MethodPost, "/analyze/"+url.PathEscape(processingTaskID), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to start analysis: %w", err)
	}
	return &resp, nil
}

// GenerateDashboard は POST /dashboard/{analysis_task_id} でダッシュボード生成を開始します
func (c *Client) GenerateDashboard(ctx context.Context, analysisTaskID string, includeAlerts, includeReport bool) (*domain.PipelineResponse, error) {
	q := url.Values{}
	q.Set("include_alerts", fmt.Sprint(includeAlerts))
	q.Set("include_report", fmt.Sprint(includeReport))
	path := "/dashboard/" + url.PathEscape(analysisTaskID) + "?" + q.Encode()

	var resp domain.PipelineResponse
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to generate dashboard: %w", err)
	}
	return &resp, nil
}

// GetTaskStatus は GET /task/{task_id} でタスク状態を取得します
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
	var resp domain.TaskStatus
	if err := c.doJSON(ctx, http.MethodGet, "/task/"+url.PathEscape(taskID), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}
	return &resp, nil
}

// GetDashboardHTML は GET /dashboard/{task_id}/html でダッシュボード本体を取得します
func (c *Client) GetDashboardHTML(ctx context.Context, taskID string) (*domain.DashboardContent, error) {
	content, err := c.fetchContent(ctx, c.resolve("/dashboard/"+url.PathEscape(taskID)+"/html"))
	if err != nil {
		return nil, fmt.Errorf("failed to get dashboard html: %w", err)
	}
	return content, nil
}

// FetchDashboardURL はタスクに記録されたダッシュボードURLを取得します
// 相対URLはベースURLのホストに対して解決します
func (c *Client) FetchDashboardURL(ctx context.Context, dashboardURL string) (*domain.DashboardContent, error) {
	target, err := c.resolveURL(dashboardURL)
	if err != nil {
		return nil, err
	}
	content, err := c.fetchContent(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dashboard: %w", err)
	}
	return content, nil
}

// GetReport は GET /report/{task_id} で構造化レポートを取得します
func (c *Client) GetReport(ctx context.Context, taskID string) (*domain.Report, error) {
	var resp domain.Report
	if err := c.doJSON(ctx, http.MethodGet, "/report/"+url.PathEscape(taskID), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return &resp, nil
}

// resolve はベースURLにAPIパスを連結します
func (c *Client) resolve(path string) string {
	return c.baseURL.String() + path
}

// resolveURL はダッシュボードURLを絶対URLにします
// "/api/v1/..." のようなルート相対URLはサービスのホストに、それ以外の相対URLはベースURL配下に解決します
func (c *Client) resolveURL(raw string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid dashboard URL %q: %w", raw, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if strings.HasPrefix(ref.Path, "/") {
		return c.baseURL.ResolveReference(ref).String(), nil
	}
	base := *c.baseURL
	base.Path = strings.TrimRight(base.Path, "/") + "/"
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	target := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Calling analysis service", "method", method, "url", target)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(method, target, resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", target, err)
	}
	return nil
}

// fetchContent はHTMLまたはJSONのダッシュボードを取得し、Content-Typeで解釈を分けます
func (c *Client) fetchContent(ctx context.Context, target string) (*domain.DashboardContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html, application/json")

	c.logger.Debug("Fetching dashboard", "url", target)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(http.MethodGet, target, resp.StatusCode, raw)
	}

	return ParseDashboardContent(resp.Header.Get("Content-Type"), raw), nil
}

// ParseDashboardContent はレスポンス本文をダッシュボード内容に変換します
//   - text/html: 本文をそのままHTMLとする
//   - JSON: html と kpis を取り出す。JSON文字列の場合はHTMLとみなす
//   - それ以外: テキストを <div> で包む
func ParseDashboardContent(contentType string, body []byte) *domain.DashboardContent {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch {
	case mediaType == "text/html":
		return &domain.DashboardContent{ContentType: mediaType, HTML: string(body)}
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var payload struct {
			HTML string       `json:"html"`
			KPIs []domain.KPI `json:"kpis"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			return &domain.DashboardContent{ContentType: mediaType, HTML: payload.HTML, KPIs: payload.KPIs}
		}
		var html string
		if err := json.Unmarshal(body, &html); err == nil {
			return &domain.DashboardContent{ContentType: mediaType, HTML: html}
		}
		return &domain.DashboardContent{ContentType: mediaType, HTML: wrapText(string(body))}
	default:
		return &domain.DashboardContent{ContentType: mediaType, HTML: wrapText(string(body))}
	}
}

func wrapText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return "<div>" + text + "</div>"
}

func newAPIError(method, target string, status int, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return &APIError{Method: method, URL: target, StatusCode: status, Body: text}
}
