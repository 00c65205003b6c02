package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

// DashboardShowAction は完了したジョブのダッシュボードを表示するコマンドのアクション
// --project を指定した場合はプロジェクトで最後に完了したジョブを対象にする
func DashboardShowAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	htmlOut := cmd.String("html-out")
	asJSON, err := wantsJSON(cmd)
	if err != nil {
		return err
	}

	sourceID, err := parseOptionalID("source", cmd.String("source"))
	if err != nil {
		return err
	}
	projectID, err := parseOptionalID("project", cmd.String("project"))
	if err != nil {
		return err
	}
	if (sourceID == nil) == (projectID == nil) {
		return fmt.Errorf("--source と --project のどちらか一方を指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	var dashboard *domain.Dashboard
	if sourceID != nil {
		dashboard, err = appCtx.Container.Dashboards.Load(ctx, *sourceID)
	} else {
		dashboard, err = appCtx.Container.Dashboards.LoadLatest(ctx, *projectID)
	}
	if err != nil {
		return fmt.Errorf("ダッシュボードの取得に失敗: %w", err)
	}

	if htmlOut != "" && dashboard.HTML != "" {
		if err := os.WriteFile(htmlOut, []byte(dashboard.HTML), 0o644); err != nil {
			return fmt.Errorf("HTMLの書き込みに失敗: %w", err)
		}
		slog.Info("ダッシュボードHTMLを保存", "path", htmlOut, "bytes", len(dashboard.HTML))
	}

	w := output(cmd)
	if asJSON {
		return writeJSON(w, dashboard)
	}
	printDashboard(w, dashboard)
	return nil
}

// DashboardSummaryAction はダッシュボードのAI要約を生成するコマンドのアクション
func DashboardSummaryAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	sourceID, err := parseID("source", cmd.String("source"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if !appCtx.Container.Summaries.Enabled() {
		return fmt.Errorf("AI要約を使うには OPENAI_API_KEY を設定してください: %w", domain.ErrSummarizerDisabled)
	}

	slog.Info("AI要約の生成を開始", "sourceID", sourceID, "model", appCtx.Config.OpenAI.LLMModel)

	summary, err := appCtx.Container.Summaries.Summarize(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("AI要約の生成に失敗: %w", err)
	}

	fmt.Fprintf(output(cmd), "\n=== AI要約 ===\n\n%s\n", summary)
	return nil
}

func printDashboard(w io.Writer, dashboard *domain.Dashboard) {
	fmt.Fprintf(w, "\n=== ダッシュボード ===\n\n")
	fmt.Fprintf(w, "Source ID:     %s\n", dashboard.SourceID)
	fmt.Fprintf(w, "Status:        %s\n", dashboard.Status)
	if dashboard.TaskID != "" {
		fmt.Fprintf(w, "Task ID:       %s\n", dashboard.TaskID)
	}
	if dashboard.DashboardURL != "" {
		fmt.Fprintf(w, "Dashboard URL: %s\n", dashboard.DashboardURL)
	}

	if !dashboard.Ready() {
		fmt.Fprintf(w, "\n%s\n", dashboard.Placeholder)
		return
	}

	if len(dashboard.KPIs) > 0 {
		fmt.Fprintf(w, "\nKPI:\n")
		for _, kpi := range dashboard.KPIs {
			fmt.Fprintf(w, "  - %s: %v", kpi.Name, kpi.Value)
			if kpi.Change != nil {
				fmt.Fprintf(w, " (%s %v)", kpi.Change.Direction, kpi.Change.Value)
			}
			fmt.Fprintln(w)
		}
	}
	if dashboard.HTML != "" {
		fmt.Fprintf(w, "\nHTML: %d bytes（--html-out で保存できます）\n", len(dashboard.HTML))
	}
}
