package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/grpc/grpclog"
)

// grpcLogger routes grpc-go's internal logging through slog. Info is
// demoted to debug; grpc-go is chatty at info.
type grpcLogger struct{}

var _ grpclog.LoggerV2 = grpcLogger{}

// InstallGRPCLogger makes grpc-go log through the default slog logger.
// It must be called before any gRPC activity.
func InstallGRPCLogger() {
	grpclog.SetLoggerV2(grpcLogger{})
}

func grpcLog(level slog.Level, msg string) {
	slog.Log(context.Background(), level, "[gRPC] "+msg)
}

func (grpcLogger) Info(args ...any)                 { grpcLog(slog.LevelDebug, fmt.Sprint(args...)) }
func (grpcLogger) Infoln(args ...any)               { grpcLog(slog.LevelDebug, fmt.Sprint(args...)) }
func (grpcLogger) Infof(format string, args ...any) { grpcLog(slog.LevelDebug, fmt.Sprintf(format, args...)) }

func (grpcLogger) Warning(args ...any)   { grpcLog(slog.LevelWarn, fmt.Sprint(args...)) }
func (grpcLogger) Warningln(args ...any) { grpcLog(slog.LevelWarn, fmt.Sprint(args...)) }
func (grpcLogger) Warningf(format string, args ...any) {
	grpcLog(slog.LevelWarn, fmt.Sprintf(format, args...))
}

func (grpcLogger) Error(args ...any)   { grpcLog(slog.LevelError, fmt.Sprint(args...)) }
func (grpcLogger) Errorln(args ...any) { grpcLog(slog.LevelError, fmt.Sprint(args...)) }
func (grpcLogger) Errorf(format string, args ...any) {
	grpcLog(slog.LevelError, fmt.Sprintf(format, args...))
}

func (grpcLogger) Fatal(args ...any) {
	grpcLog(slog.LevelError, fmt.Sprint(args...))
	os.Exit(1)
}

func (grpcLogger) Fatalln(args ...any) {
	grpcLog(slog.LevelError, fmt.Sprint(args...))
	os.Exit(1)
}

func (grpcLogger) Fatalf(format string, args ...any) {
	grpcLog(slog.LevelError, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// V reports whether verbosity level l is enabled; only level 0 is.
func (grpcLogger) V(l int) bool {
	return l <= 0
}
