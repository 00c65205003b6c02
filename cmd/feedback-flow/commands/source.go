package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/feedback-flow/internal/module/collection/application"
	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

// SourceCreateAction はジョブを投入するコマンドのアクション
func SourceCreateAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	wait := cmd.Bool("wait")

	projectID, err := parseOptionalID("project", cmd.String("project"))
	if err != nil {
		return err
	}
	metadata, err := parseMetadataFlag(cmd.String("metadata"))
	if err != nil {
		return err
	}

	params := domain.SubmitParams{
		Name:      cmd.String("name"),
		URL:       cmd.String("url"),
		Type:      domain.SourceType(cmd.String("type")),
		ProjectID: projectID,
		Metadata:  metadata,
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	slog.Info("ジョブ投入を開始", "name", params.Name, "type", params.Type, "mode", appCtx.Config.Analysis.SubmissionMode)

	var tracker *application.Tracker
	if wait {
		tracker = appCtx.Container.Tracker
	}
	return createSource(ctx, appCtx.Container.Submissions, tracker, output(cmd), params)
}

// createSource はジョブを投入し、tracker が指定されていれば終了まで追跡する
func createSource(ctx context.Context, submissions *application.SubmissionService, tracker *application.Tracker, w io.Writer, params domain.SubmitParams) error {
	src, err := submissions.Submit(ctx, params)

	var submissionErr *domain.SubmissionError
	if errors.As(err, &submissionErr) {
		fmt.Fprintf(w, "✗ 解析サービスへの投入に失敗しました（レコードは error 状態で保存されています）\n")
		if src != nil {
			printSource(w, src)
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("ジョブの投入に失敗: %w", err)
	}

	fmt.Fprintf(w, "✓ ジョブを投入しました\n")
	printSource(w, src)

	if tracker == nil {
		return nil
	}
	return trackSource(ctx, tracker, w, src.ID)
}

// SourceListAction はデータソース一覧を表示するコマンドのアクション
func SourceListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	asJSON, err := wantsJSON(cmd)
	if err != nil {
		return err
	}

	filter, err := sourceFilterFromFlags(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	sources, err := appCtx.Container.Submissions.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("データソース一覧の取得に失敗: %w", err)
	}

	w := output(cmd)
	if asJSON {
		return writeJSON(w, sources)
	}
	if len(sources) == 0 {
		fmt.Fprintln(w, "データソースはありません")
		return nil
	}
	return printSourceTable(w, sources)
}

func sourceFilterFromFlags(cmd *cli.Command) (domain.SourceFilter, error) {
	filter := domain.SourceFilter{
		OrderBy: domain.OrderByCreatedAt,
		Limit:   int(cmd.Int("limit")),
	}

	projectID, err := parseOptionalID("project", cmd.String("project"))
	if err != nil {
		return filter, err
	}
	filter.ProjectID = projectID

	for _, raw := range cmd.StringSlice("status") {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return filter, fmt.Errorf("--status が不正です: %w", err)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	if raw := cmd.String("type"); raw != "" {
		sourceType, err := domain.ParseSourceType(raw)
		if err != nil {
			return filter, fmt.Errorf("--type が不正です: %w", err)
		}
		filter.Type = sourceType
	}

	switch order := domain.SourceOrder(cmd.String("order")); order {
	case "", domain.OrderByCreatedAt:
	case domain.OrderByLastUpdated:
		filter.OrderBy = order
	default:
		return filter, fmt.Errorf("--order は created_at または last_updated を指定してください: %s", order)
	}

	return filter, nil
}

// SourceShowAction はデータソース詳細を表示するコマンドのアクション
func SourceShowAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	id, err := parseID("id", cmd.String("id"))
	if err != nil {
		return err
	}
	asJSON, err := wantsJSON(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	src, err := appCtx.Container.Submissions.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("データソースの取得に失敗: %w", err)
	}

	w := output(cmd)
	if asJSON {
		return writeJSON(w, src)
	}
	fmt.Fprintf(w, "\n=== データソース詳細 ===\n\n")
	printSource(w, src)
	return nil
}

// SourceDeleteAction はデータソースを削除するコマンドのアクション
func SourceDeleteAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	id, err := parseID("id", cmd.String("id"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Submissions.Delete(ctx, id); err != nil {
		return fmt.Errorf("データソースの削除に失敗: %w", err)
	}

	fmt.Fprintf(output(cmd), "✓ データソース %s を削除しました\n", id)
	return nil
}

// SourceAdvanceAction はジョブの状態を手動で進めるコマンドのアクション
func SourceAdvanceAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	id, err := parseID("id", cmd.String("id"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	src, err := appCtx.Container.Submissions.Advance(ctx, id, cmd.String("action"))
	if err != nil {
		return fmt.Errorf("状態の更新に失敗: %w", err)
	}

	fmt.Fprintf(output(cmd), "✓ データソース %s を %s に更新しました\n", src.ID, src.Status)
	return nil
}

// SourceTrackAction はジョブを終了まで追跡するコマンドのアクション
func SourceTrackAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	id, err := parseID("id", cmd.String("id"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	return trackSource(ctx, appCtx.Container.Tracker, output(cmd), id)
}

// trackSource はジョブを同期的に追跡し、終了理由を表示する
// 失敗とタイムアウトはエラーとして返す
func trackSource(ctx context.Context, tracker *application.Tracker, w io.Writer, id uuid.UUID) error {
	cfg := tracker.Config()
	fmt.Fprintf(w, "追跡中: %s（間隔 %s、上限 %d 回 / %s）\n", id, cfg.PollInterval, cfg.MaxAttempts, cfg.Timeout)

	outcome, err := tracker.Track(ctx, id)
	if err != nil {
		return fmt.Errorf("追跡の開始に失敗: %w", err)
	}

	printOutcome(w, outcome)
	return outcome.Err()
}

// SourceResumeAction は未完了ジョブの追跡を再開し、すべて終了するまで待つコマンドのアクション
func SourceResumeAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	return resumeTracking(ctx, appCtx.Container.Tracker, output(cmd))
}

func resumeTracking(ctx context.Context, tracker *application.Tracker, w io.Writer) error {
	started, err := tracker.Resume(ctx)
	if err != nil {
		return fmt.Errorf("追跡の再開に失敗: %w", err)
	}
	fmt.Fprintf(w, "%d件のジョブの追跡を再開しました\n", started)
	if started == 0 {
		return nil
	}

	done := make(chan struct{})
	go func() {
		tracker.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Info("中断を受け付けました。追跡を停止します")
		tracker.Shutdown()
		<-done
	}

	fmt.Fprintf(w, "✓ すべての追跡が終了しました\n")
	return nil
}

func parseMetadataFlag(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("--metadata はJSONオブジェクトで指定してください: %w", err)
	}
	return metadata, nil
}

func printSource(w io.Writer, src *domain.DataSource) {
	fmt.Fprintf(w, "ID:            %s\n", src.ID)
	fmt.Fprintf(w, "Name:          %s\n", src.Name)
	fmt.Fprintf(w, "URL:           %s\n", src.URL)
	fmt.Fprintf(w, "Type:          %s\n", src.Type)
	fmt.Fprintf(w, "Status:        %s\n", src.Status)
	if src.ProjectID != nil {
		fmt.Fprintf(w, "Project ID:    %s\n", *src.ProjectID)
	}
	if src.Metadata.TaskID != "" {
		fmt.Fprintf(w, "Task ID:       %s\n", src.Metadata.TaskID)
	}
	if src.Metadata.CurrentStage != "" {
		fmt.Fprintf(w, "Current Stage: %s\n", src.Metadata.CurrentStage)
	}
	if src.Metadata.DashboardURL != "" {
		fmt.Fprintf(w, "Dashboard URL: %s\n", src.Metadata.DashboardURL)
	}
	if src.Metadata.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:         %s\n", src.Metadata.ErrorMessage)
	}
	fmt.Fprintf(w, "Created At:    %s\n", src.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Last Updated:  %s\n", src.LastUpdated.Format(time.RFC3339))
}

func printSourceTable(w io.Writer, sources []*domain.DataSource) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tSTAGE\tLAST UPDATED")
	for _, src := range sources {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			src.ID, src.Name, src.Type, src.Status, src.Metadata.CurrentStage, src.LastUpdated.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printOutcome(w io.Writer, outcome *domain.Outcome) {
	switch outcome.Result {
	case domain.OutcomeCompleted:
		fmt.Fprintf(w, "✓ パイプラインが完了しました\n")
	case domain.OutcomeFailed:
		fmt.Fprintf(w, "✗ パイプラインが失敗しました\n")
	case domain.OutcomeTimedOut:
		fmt.Fprintf(w, "✗ 追跡がタイムアウトしました\n")
	default:
		fmt.Fprintf(w, "- 追跡を中断しました\n")
	}
	fmt.Fprintf(w, "  Status:   %s\n", outcome.Status)
	fmt.Fprintf(w, "  Attempts: %d\n", outcome.Attempts)
	fmt.Fprintf(w, "  Elapsed:  %s\n", outcome.Elapsed.Round(time.Millisecond))
	if outcome.DashboardURL != "" {
		fmt.Fprintf(w, "  Dashboard URL: %s\n", outcome.DashboardURL)
	}
	if outcome.Message != "" {
		fmt.Fprintf(w, "  Message:  %s\n", outcome.Message)
	}
}
