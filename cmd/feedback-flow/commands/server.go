package commands

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/feedback-flow/internal/interface/httpapi"
	"github.com/jinford/feedback-flow/internal/platform/container"
)

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
// 投入されたジョブはサーバー内で自動的に追跡する
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile, container.WithAutoTrack())
	if err != nil {
		return err
	}
	defer appCtx.Close()

	serverCfg := appCtx.Config.Server
	if cmd.IsSet("port") {
		serverCfg.Port = int(cmd.Int("port"))
	}

	slog.Info("HTTPサーバを起動",
		"port", serverCfg.Port,
		"analysisBaseURL", appCtx.Config.Analysis.BaseURL,
		"submissionMode", appCtx.Config.Analysis.SubmissionMode,
	)

	server := httpapi.New(appCtx.Container, serverCfg, httpapi.WithServerLogger(appCtx.Logger()))
	if err := server.Run(ctx); err != nil {
		slog.Error("HTTPサーバが異常終了しました", "error", err)
		return err
	}

	slog.Info("HTTPサーバを停止しました")
	return nil
}
