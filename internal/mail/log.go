package mail

import (
	"context"
	"log/slog"
)

// LogTransport はメールを送信せずログに出力する。開発環境用。
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport はLogTransportを生成する。loggerがnilの場合はデフォルトロガーを使う。
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

// Send はメールの内容をINFOレベルで出力する。
func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	t.logger.InfoContext(ctx, "mail not sent (log transport)",
		slog.String("kind", msg.Kind),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("html", msg.HTML),
	)
	return nil
}
