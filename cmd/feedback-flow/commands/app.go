package commands

import (
	"github.com/urfave/cli/v3"
)

// App はコマンドツリーを構築する
func App() *cli.Command {
	return &cli.Command{
		Name:  "feedback-flow",
		Usage: "フィードバック収集パイプラインの投入と進捗追跡",
		Commands: []*cli.Command{
			{
				Name:  "project",
				Usage: "プロジェクト管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "create",
						Usage: "プロジェクトを作成",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "name",
								Usage:    "プロジェクト名",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "description",
								Usage: "説明",
							},
						},
						Action: ProjectCreateAction,
					},
					{
						Name:   "list",
						Usage:  "プロジェクト一覧を表示",
						Flags:  []cli.Flag{envFlag(), formatFlag()},
						Action: ProjectListAction,
					},
					{
						Name:  "show",
						Usage: "プロジェクト詳細を表示",
						Flags: []cli.Flag{
							envFlag(),
							formatFlag(),
							&cli.StringFlag{
								Name:     "id",
								Usage:    "プロジェクトID",
								Required: true,
							},
						},
						Action: ProjectShowAction,
					},
				},
			},
			{
				Name:  "source",
				Usage: "データソース（収集ジョブ）管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "create",
						Usage: "データソースを登録して解析サービスへ投入",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "name",
								Usage:    "データソース名",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "url",
								Usage:    "収集対象のURL",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "type",
								Usage:    "種別（social, forum, reviews, survey, website）",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "project",
								Usage: "所属プロジェクトID",
							},
							&cli.StringFlag{
								Name:  "metadata",
								Usage: "収集オプション（JSONオブジェクト）",
							},
							&cli.BoolFlag{
								Name:  "wait",
								Usage: "投入後、終了まで追跡する",
							},
						},
						Action: SourceCreateAction,
					},
					{
						Name:  "list",
						Usage: "データソース一覧を表示",
						Flags: []cli.Flag{
							envFlag(),
							formatFlag(),
							&cli.StringFlag{
								Name:  "project",
								Usage: "プロジェクトID（絞り込み）",
							},
							&cli.StringSliceFlag{
								Name:  "status",
								Usage: "ステータス（絞り込み、複数指定可）",
							},
							&cli.StringFlag{
								Name:  "type",
								Usage: "種別（絞り込み）",
							},
							&cli.StringFlag{
								Name:  "order",
								Usage: "並び順（created_at または last_updated）",
								Value: "created_at",
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "最大件数（0は無制限）",
							},
						},
						Action: SourceListAction,
					},
					{
						Name:  "show",
						Usage: "データソース詳細を表示",
						Flags: []cli.Flag{
							envFlag(),
							formatFlag(),
							&cli.StringFlag{
								Name:     "id",
								Usage:    "データソースID",
								Required: true,
							},
						},
						Action: SourceShowAction,
					},
					{
						Name:  "delete",
						Usage: "データソースを削除（追跡中なら停止）",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "id",
								Usage:    "データソースID",
								Required: true,
							},
						},
						Action: SourceDeleteAction,
					},
					{
						Name:  "track",
						Usage: "ジョブの進捗を終了まで追跡",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "id",
								Usage:    "データソースID",
								Required: true,
							},
						},
						Action: SourceTrackAction,
					},
					{
						Name:  "advance",
						Usage: "ジョブの状態を手動で進める（collect, process, analyze, complete）",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "id",
								Usage:    "データソースID",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "action",
								Usage:    "操作（collect, process, analyze, complete）",
								Required: true,
							},
						},
						Action: SourceAdvanceAction,
					},
					{
						Name:   "resume",
						Usage:  "未完了ジョブの追跡を再開",
						Flags:  []cli.Flag{envFlag()},
						Action: SourceResumeAction,
					},
				},
			},
			{
				Name:  "dashboard",
				Usage: "ダッシュボードコマンド",
				Commands: []*cli.Command{
					{
						Name:  "show",
						Usage: "ダッシュボードを表示",
						Flags: []cli.Flag{
							envFlag(),
							formatFlag(),
							&cli.StringFlag{
								Name:  "source",
								Usage: "データソースID",
							},
							&cli.StringFlag{
								Name:  "project",
								Usage: "プロジェクトID（最後に完了したジョブを表示）",
							},
							&cli.StringFlag{
								Name:  "html-out",
								Usage: "ダッシュボードHTMLの保存先",
							},
						},
						Action: DashboardShowAction,
					},
					{
						Name:  "summary",
						Usage: "ダッシュボードのAI要約を生成",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "source",
								Usage:    "データソースID",
								Required: true,
							},
						},
						Action: DashboardSummaryAction,
					},
				},
			},
			{
				Name:  "server",
				Usage: "HTTPサーバコマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバを起動",
						Flags: []cli.Flag{
							envFlag(),
							&cli.IntFlag{
								Name:  "port",
								Usage: "HTTPポート（省略時は環境変数またはデフォルトの8080）",
								Value: 8080,
							},
						},
						Action: ServerStartAction,
					},
				},
			},
		},
	}
}
