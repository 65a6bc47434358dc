// ABOUTME: Adapts the Lark SDK logger interface onto slog
// ABOUTME: SDK log lines land in the same structured stream as the rest of the bridge

package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
)

// NewSDKLogger adapts logger for Lark SDK components built outside Client,
// such as the long-connection client.
func NewSDKLogger(logger *slog.Logger) larkcore.Logger {
	return &slogLogger{logger: logger}
}

type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Debug(ctx context.Context, args ...interface{}) {
	l.logger.DebugContext(ctx, join(args), "source", "lark-sdk")
}

func (l *slogLogger) Info(ctx context.Context, args ...interface{}) {
	l.logger.InfoContext(ctx, join(args), "source", "lark-sdk")
}

func (l *slogLogger) Warn(ctx context.Context, args ...interface{}) {
	l.logger.WarnContext(ctx, join(args), "source", "lark-sdk")
}

func (l *slogLogger) Error(ctx context.Context, args ...interface{}) {
	l.logger.ErrorContext(ctx, join(args), "source", "lark-sdk")
}

func join(args []interface{}) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, " ")
}
