package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// DefaultMaxPromptTokens はプロンプトのデフォルトのトークン上限
	DefaultMaxPromptTokens = 3000

	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second

	summaryMaxTokens = 400
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

	// ErrMaxRetriesExceeded は最大リトライ回数を超えた場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	htmlTag    = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]+>`)
	whitespace = regexp.MustCompile(`\s+`)
)

const systemPrompt = `You are a customer feedback analyst. Given KPIs and dashboard text from a feedback analysis run, write a concise summary (3-5 sentences) of the main findings, notable changes and one recommended next step. Do not invent numbers that are not in the input.`

// Summarizer はOpenAI APIを使用したレポート要約の実装
type Summarizer struct {
	client          openai.Client
	model           string
	timeout         time.Duration
	maxPromptTokens int
	baseBackoff     time.Duration
	maxBackoff      time.Duration
	counter         *TokenCounter
	logger          *slog.Logger
	requestOptions  []option.RequestOption
}

// SummarizerOption はSummarizerの設定オプション
type SummarizerOption func(*Summarizer)

// WithMaxPromptTokens はプロンプトのトークン上限を設定します
func WithMaxPromptTokens(n int) SummarizerOption {
	return func(s *Summarizer) {
		if n > 0 {
			s.maxPromptTokens = n
		}
	}
}

// WithSummarizerLogger はロガーを設定します
func WithSummarizerLogger(logger *slog.Logger) SummarizerOption {
	return func(s *Summarizer) {
		s.logger = logger
	}
}

// WithTokenCounter はトークンカウンターを設定します
func WithTokenCounter(counter *TokenCounter) SummarizerOption {
	return func(s *Summarizer) {
		s.counter = counter
	}
}

// WithBaseURL はAPIのベースURLを設定します
func WithBaseURL(baseURL string) SummarizerOption {
	return func(s *Summarizer) {
		s.requestOptions = append(s.requestOptions, option.WithBaseURL(baseURL))
	}
}

// WithBackoff はレート制限時の待機時間を設定します
func WithBackoff(base, maxWait time.Duration) SummarizerOption {
	return func(s *Summarizer) {
		s.baseBackoff = base
		s.maxBackoff = maxWait
	}
}

// NewSummarizer はAPIキーとモデルを指定してSummarizerを作成する
func NewSummarizer(apiKey, model string, opts ...SummarizerOption) (*Summarizer, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if model == "" {
		model = DefaultModel
	}

	s := &Summarizer{
		model:           model,
		timeout:         DefaultTimeout,
		maxPromptTokens: DefaultMaxPromptTokens,
		baseBackoff:     BaseBackoff,
		maxBackoff:      MaxBackoff,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.counter == nil {
		counter, err := NewTokenCounter()
		if err != nil {
			s.logger.Warn("Falling back to estimated token counts", "error", err)
			counter = &TokenCounter{}
		}
		s.counter = counter
	}

	// リトライは自前で制御する
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, s.requestOptions...)
	s.client = openai.NewClient(reqOpts...)

	return s, nil
}

var _ domain.Summarizer = (*Summarizer)(nil)

// Summarize はKPIとダッシュボード本文から要約を生成する
func (s *Summarizer) Summarize(ctx context.Context, in domain.SummaryInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := s.BuildPrompt(in)
	s.logger.Debug("Requesting summary", "source", in.SourceName, "promptTokens", s.counter.CountTokens(prompt))

	return s.generateWithRetry(ctx, prompt)
}

// BuildPrompt はトークン上限内に収まるプロンプトを組み立てる
// KPIを優先し、残りの予算をダッシュボード本文に割り当てる
func (s *Summarizer) BuildPrompt(in domain.SummaryInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s (%s)\n", in.SourceName, in.SourceType)

	if len(in.KPIs) > 0 {
		b.WriteString("KPIs:\n")
		for _, kpi := range in.KPIs {
			fmt.Fprintf(&b, "- %s: %v", kpi.Name, kpi.Value)
			if kpi.Change != nil {
				fmt.Fprintf(&b, " (%s %v)", kpi.Change.Direction, kpi.Change.Value)
			}
			if kpi.Description != "" {
				fmt.Fprintf(&b, " - %s", kpi.Description)
			}
			b.WriteString("\n")
		}
	}

	head := s.counter.Truncate(b.String(), s.maxPromptTokens)
	text := PlainText(in.Dashboard)
	if text == "" {
		return head
	}

	const label = "Dashboard:\n"
	remaining := s.maxPromptTokens - s.counter.CountTokens(head) - s.counter.CountTokens(label)
	if remaining <= 0 {
		return head
	}
	return head + label + s.counter.Truncate(text, remaining)
}

// PlainText はHTMLからタグを除いたテキストを返す
func PlainText(html string) string {
	text := htmlTag.ReplaceAllString(html, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// generateWithRetry はレート制限エラー時にExponential Backoffでリトライする
func (s *Summarizer) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			backoffDuration := time.Duration(math.Pow(2, float64(attempt-1))) * s.baseBackoff
			if backoffDuration > s.maxBackoff {
				backoffDuration = s.maxBackoff
			}

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoffDuration):
			}
		}

		completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: shared.ChatModel(s.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt),
				openai.UserMessage(prompt),
			},
			Temperature: openai.Float(0.2),
			MaxTokens:   openai.Int(summaryMaxTokens),
		})
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				s.logger.Warn("Rate limited by OpenAI, retrying", "attempt", attempt+1)
				continue
			}
			return "", fmt.Errorf("OpenAI API call failed: %w", err)
		}

		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("no completion choices returned")
		}
		content := strings.TrimSpace(completion.Choices[0].Message.Content)
		if content == "" {
			return "", fmt.Errorf("empty summary returned")
		}
		return content, nil
	}

	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

// isRateLimitError はエラーがレート制限エラーかどうかを判定する
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
