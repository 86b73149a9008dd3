package model

import (
	"fmt"
	"slices"
)

// SearchMode 当前的检索通道
type SearchMode string

const (
	ModeVectorstore SearchMode = "vectorstore" // 向量库
	ModeWebsearch   SearchMode = "websearch"   // 网络搜索
	ModeQAOnly      SearchMode = "qa_only"     // 不检索，直接问答
)

// Valid 是否为合法的检索通道
func (m SearchMode) Valid() bool {
	switch m {
	case ModeVectorstore, ModeWebsearch, ModeQAOnly:
		return true
	}
	return false
}

// RunState 一次问答调用的运行状态，只属于一次执行
type RunState struct {
	// 用户输入的问题，创建后不再修改
	Question string `json:"question"`

	// 检索链路
	RewrittenQuestion string     `json:"rewritten_question,omitempty"` // 最近一次用于检索的查询
	Documents         []string   `json:"documents"`                    // 检索/抽取得到的段落，按插入顺序
	SearchMode        SearchMode `json:"search_mode"`                  // 当前检索通道
	RetrievalNum      int        `json:"retrieval_num"`                // 当前通道下的检索次数
	SearchErrors      []string   `json:"search_errors,omitempty"`      // 网络搜索失败记录

	// 生成链路
	Generation          string   `json:"generation,omitempty"`           // 最近一次生成的答案
	GenerationNum       int      `json:"generation_num"`                 // 生成次数，整个运行期间不重置
	QueryFeedbacks      []string `json:"query_feedbacks,omitempty"`      // 对历史查询的反馈
	GenerationFeedbacks []string `json:"generation_feedbacks,omitempty"` // 对历史答案的反馈
}

// NewRunState 创建运行状态
func NewRunState(question string) *RunState {
	return &RunState{
		Question:   question,
		Documents:  []string{},
		SearchMode: ModeQAOnly,
	}
}

// StateUpdate 节点返回的部分更新，nil 字段表示不修改
type StateUpdate struct {
	RewrittenQuestion   *string     `json:"rewritten_question,omitempty"`
	Documents           *[]string   `json:"documents,omitempty"`
	SearchMode          *SearchMode `json:"search_mode,omitempty"`
	RetrievalNum        *int        `json:"retrieval_num,omitempty"`
	SearchErrors        *[]string   `json:"search_errors,omitempty"`
	Generation          *string     `json:"generation,omitempty"`
	GenerationNum       *int        `json:"generation_num,omitempty"`
	QueryFeedbacks      *[]string   `json:"query_feedbacks,omitempty"`
	GenerationFeedbacks *[]string   `json:"generation_feedbacks,omitempty"`
}

// Apply 按字段整体替换，不做深度合并
func (s *RunState) Apply(u *StateUpdate) {
	if u == nil {
		return
	}
	if u.RewrittenQuestion != nil {
		s.RewrittenQuestion = *u.RewrittenQuestion
	}
	if u.Documents != nil {
		s.Documents = slices.Clone(*u.Documents)
	}
	if u.SearchMode != nil {
		s.SearchMode = *u.SearchMode
	}
	if u.RetrievalNum != nil {
		s.RetrievalNum = *u.RetrievalNum
	}
	if u.SearchErrors != nil {
		s.SearchErrors = slices.Clone(*u.SearchErrors)
	}
	if u.Generation != nil {
		s.Generation = *u.Generation
	}
	if u.GenerationNum != nil {
		s.GenerationNum = *u.GenerationNum
	}
	if u.QueryFeedbacks != nil {
		s.QueryFeedbacks = slices.Clone(*u.QueryFeedbacks)
	}
	if u.GenerationFeedbacks != nil {
		s.GenerationFeedbacks = slices.Clone(*u.GenerationFeedbacks)
	}
}

// Fields 返回更新中出现的字段名，用于日志
func (u *StateUpdate) Fields() []string {
	if u == nil {
		return nil
	}
	var fields []string
	add := func(ok bool, name string) {
		if ok {
			fields = append(fields, name)
		}
	}
	add(u.RewrittenQuestion != nil, "rewritten_question")
	add(u.Documents != nil, "documents")
	add(u.SearchMode != nil, "search_mode")
	add(u.RetrievalNum != nil, "retrieval_num")
	add(u.SearchErrors != nil, "search_errors")
	add(u.Generation != nil, "generation")
	add(u.GenerationNum != nil, "generation_num")
	add(u.QueryFeedbacks != nil, "query_feedbacks")
	add(u.GenerationFeedbacks != nil, "generation_feedbacks")
	return fields
}

// String 便于日志输出
func (u *StateUpdate) String() string {
	return fmt.Sprintf("StateUpdate%v", u.Fields())
}

// Ptr 取地址的小工具
func Ptr[T any](v T) *T {
	return &v
}
