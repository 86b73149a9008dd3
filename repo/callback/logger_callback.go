package callback

import (
	"context"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/callbacks"
)

// NewLoggerHandler 创建日志回调，记录每个组件的开始、结束与错误
func NewLoggerHandler(graphName string) callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			if info != nil {
				slog.Debug("[%s] OnStart, name = %s, type = %s, component = %s", graphName, info.Name, info.Type, info.Component)
			}
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			if info != nil {
				slog.Debug("[%s] OnEnd, name = %s, type = %s, component = %s", graphName, info.Name, info.Type, info.Component)
			}
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			name := ""
			if info != nil {
				name = info.Name
			}
			slog.Error("[%s] OnError, name = %s, err = %+v", graphName, name, err)
			return ctx
		}).
		Build()
}
