package callback

import (
	"encoding/json"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/hertz/pkg/protocol/sse"

	"github.com/hildam/adaptive-rag-go/entity/model"
)

// 推送事件类型
const (
	EventStep   = "step"   // 节点执行完成
	EventAnswer = "answer" // 最终答案
	EventError  = "error"  // 致命错误
)

// EventWriter SSE 事件写入
type EventWriter interface {
	WriteEvent(id, event string, data []byte) error
}

var _ EventWriter = (*sse.Writer)(nil)

// StepPusher 将运行事件推送给客户端
type StepPusher struct {
	RunID string                 // 运行ID
	Agent string                 // 智能体类型
	SSE   EventWriter            // SSE写入器，HTTP 流式响应时使用
	Out   chan<- *model.StepResp // 输出通道，命令行模式时使用
}

// Push 推送一条事件，SSE 与输出通道同时存在时双路推送
func (p *StepPusher) Push(event string, data *model.StepResp) error {
	data.RunID = p.RunID
	data.Agent = p.Agent

	if p.SSE != nil {
		dataByte, err := json.Marshal(data)
		if err != nil {
			slog.Error("Push failed, marshal data err = %+v, data = %+v", err, data)
			return err
		}
		if err = p.SSE.WriteEvent("", event, dataByte); err != nil {
			slog.Error("Push failed, write event err = %+v, run_id = %s", err, p.RunID)
			return err
		}
	}
	if p.Out != nil {
		p.Out <- data
	}
	return nil
}
