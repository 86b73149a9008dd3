package model

import "encoding/json"

// StepResp 推送给客户端的单步事件
type StepResp struct {
	RunID  string       `json:"run_id"`           // 本次运行ID
	Agent  string       `json:"agent"`            // 智能体类型：simple / complex
	Node   string       `json:"node,omitempty"`   // 刚执行完成的节点
	Step   int          `json:"step,omitempty"`   // 第几步
	Update *StateUpdate `json:"update,omitempty"` // 节点产生的状态增量
	Answer string       `json:"answer,omitempty"` // 最终答案，仅在结束事件中出现
	Error  string       `json:"error,omitempty"`  // 致命错误，仅在错误事件中出现
}

// AskReq 问答请求
type AskReq struct {
	Question string          `json:"question"`
	Stream   bool            `json:"stream,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"` // 覆盖默认配置的字段，见 MergeAgentConfig
}

// AskResp 非流式问答响应
type AskResp struct {
	RunID  string `json:"run_id"`
	Answer string `json:"answer"`
}
