package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/feedback-flow/internal/module/collection/application"
)

// ProjectCreateAction はプロジェクトを作成するコマンドのアクション
func ProjectCreateAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	name := cmd.String("name")

	var description *string
	if cmd.IsSet("description") {
		d := cmd.String("description")
		description = &d
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	slog.Info("プロジェクト作成を開始", "name", name)

	return createProject(ctx, appCtx.Container.Submissions, output(cmd), name, description)
}

func createProject(ctx context.Context, submissions *application.SubmissionService, w io.Writer, name string, description *string) error {
	project, err := submissions.CreateProject(ctx, name, description)
	if err != nil {
		return fmt.Errorf("プロジェクトの作成に失敗: %w", err)
	}

	fmt.Fprintf(w, "✓ プロジェクトを作成しました\n")
	fmt.Fprintf(w, "  ID:   %s\n", project.ID)
	fmt.Fprintf(w, "  Name: %s\n", project.Name)
	return nil
}

// ProjectListAction はプロジェクト一覧を表示するコマンドのアクション
func ProjectListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	asJSON, err := wantsJSON(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	return listProjects(ctx, appCtx.Container.Submissions, output(cmd), asJSON)
}

func listProjects(ctx context.Context, submissions *application.SubmissionService, w io.Writer, asJSON bool) error {
	projects, err := submissions.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("プロジェクト一覧の取得に失敗: %w", err)
	}

	if asJSON {
		return writeJSON(w, projects)
	}

	if len(projects) == 0 {
		fmt.Fprintln(w, "プロジェクトはありません")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED AT")
	for _, p := range projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Name, p.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// ProjectShowAction はプロジェクト詳細と所属データソースを表示するコマンドのアクション
func ProjectShowAction(ctx context.Context, cmd *cli.Command) error {
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

	project, err := appCtx.Container.Submissions.GetProject(ctx, id)
	if err != nil {
		return fmt.Errorf("プロジェクトの取得に失敗: %w", err)
	}

	w := output(cmd)
	if asJSON {
		return writeJSON(w, project)
	}

	fmt.Fprintf(w, "\n=== プロジェクト詳細 ===\n\n")
	fmt.Fprintf(w, "ID:          %s\n", project.ID)
	fmt.Fprintf(w, "Name:        %s\n", project.Name)
	if project.Description != nil {
		fmt.Fprintf(w, "Description: %s\n", *project.Description)
	}
	fmt.Fprintf(w, "Created At:  %s\n", project.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "\nデータソース (%d件):\n", len(project.Sources))
	if len(project.Sources) == 0 {
		return nil
	}
	return printSourceTable(w, project.Sources)
}
