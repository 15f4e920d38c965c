package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandAuth は認証サービスとして起動することを示す。
	CommandAuth Command = "auth"
	// CommandUser はプロフィールサービスとして起動することを示す。
	CommandUser Command = "user"
	// CommandWorker はメンテナンスワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandAuthを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandAuth
	}

	switch args[0] {
	case "auth":
		return CommandAuth
	case "user":
		return CommandUser
	case "worker":
		return CommandWorker
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandAuth
	}
}
