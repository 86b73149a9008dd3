package consts

const (
	GraphName       = "adaptive_rag_agent" // 自适应 RAG 图名称，用于标识整个工作流
	SimpleGraphName = "simple_rag_agent"   // 线性 RAG 图名称
)

// 节点名字
const (
	RewriteForStore    = "rewrite_for_store"    // 面向向量库改写查询
	RewriteForWeb      = "rewrite_for_web"      // 面向网络搜索改写查询
	RetrieveStore      = "retrieve_store"       // 向量库检索
	RetrieveWeb        = "retrieve_web"         // 网络搜索
	FilterDocuments    = "filter_documents"     // 文档相关性过滤
	ExtractKnowledge   = "extract_knowledge"    // 知识抽取
	GenerateAnswer     = "generate_answer"      // 生成答案
	AnswerWithFeedback = "answer_with_feedback" // 针对答案生成反馈
	QueryWithFeedback  = "query_with_feedback"  // 针对查询生成反馈
	AnswerDirectly     = "answer_directly"      // 不检索直接回答
	Concede            = "concede"              // 放弃并给出兜底回答
	SimpleRetrieve     = "retrieve"             // 线性流程：检索
	SimpleGenerate     = "generate"             // 线性流程：生成
)

// 路由名字
const (
	ClassifyQuestion  = "classify_question"  // 问题分类，仅在起点使用
	EvaluateAnswer    = "evaluate_answer"    // 评估答案
	PickRetryChannel  = "pick_retry_channel" // 选择重试通道
	ValidateDocuments = "validate_documents" // 校验文档
)

// GetNodeNameList 返回自适应图的全部节点
func GetNodeNameList() []string {
	return []string{
		RewriteForStore,
		RewriteForWeb,
		RetrieveStore,
		RetrieveWeb,
		FilterDocuments,
		ExtractKnowledge,
		GenerateAnswer,
		AnswerWithFeedback,
		QueryWithFeedback,
		AnswerDirectly,
		Concede,
	}
}

// evaluate_answer 路由标签
const (
	LabelUseful       = "useful"
	LabelNotRelevant  = "not_relevant"
	LabelHallucinated = "hallucination"
	LabelExhausted    = "exhausted"
)

// validate_documents 路由标签
const (
	LabelHasKnowledge     = "has_knowledge"
	LabelRetryVectorstore = "retry_vectorstore"
	LabelRetryWebsearch   = "retry_websearch"
	LabelEscalateToWeb    = "escalate_to_web"
	LabelGiveUp           = "give_up"
)

// 二元评分
const (
	Yes = "yes"
	No  = "no"
)

// 检索方式
const (
	SearchTypeSimilarity = "similarity"
	SearchTypeMMR        = "mmr"
)

// 网络搜索后端
const (
	SearchProviderTavily = "tavily"
	SearchProviderMCP    = "mcp"
)

// 智能体类型
const (
	AgentSimple  = "simple"  // 线性 RAG
	AgentComplex = "complex" // 自适应 RAG
)
