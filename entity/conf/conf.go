package conf

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"dario.cat/mergo"
	"github.com/HildaM/logs/slog"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/hildam/adaptive-rag-go/entity/model"
)

const (
	// DefaultConfigPath 默认配置文件
	DefaultConfigPath = "config.yaml"
	// EnvPrefix 环境变量前缀，RAG_MODEL__DEFAULT_MODEL__API_KEY -> model.default_model.api_key
	EnvPrefix = "RAG_"
)

var (
	// 配置读写锁，确保并发安全
	configMu sync.RWMutex
	// 文件提供者
	f *file.File
	// 缓存的配置实例
	appConf *AppConfig
)

// Init 初始化配置
func Init(path string) error {
	if path == "" {
		path = DefaultConfigPath
	}

	// 加载配置
	cfg, err := Load(path)
	if err != nil {
		return fmt.Errorf("Init config failed, load config err: %v", err)
	}
	setCfg(cfg)

	// 启动配置文件监听
	startConfigWatch(path)

	// 初始化日志
	if err := slog.InitFile(cfg.Log.Path, slog.WithLevel(cfg.Log.Level), slog.WithColor(false)); err != nil {
		return fmt.Errorf("Init log failed, err: %+v", err)
	}

	slog.Info("Init config: %+v", cfg.Redacted())
	return nil
}

// Load 从文件与环境变量加载配置，不修改全局实例
func Load(path string) (*AppConfig, error) {
	// 使用 "." 作为键路径分隔符
	k := koanf.New(".")

	// 从配置文件加载
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// 环境变量覆盖，双下划线表示层级
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, EnvPrefix)
			key = strings.ReplaceAll(strings.ToLower(key), "__", ".")
			return key, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	// 解析到预置默认值的结构体上，文件中显式的零值会保留
	config := AppConfig{Agent: model.DefaultAgentConfig()}
	config.Agent.LLM.Name = ""
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetCfg 获取配置
func GetCfg() *AppConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConf
}

// setCfg 替换全局配置
func setCfg(cfg *AppConfig) {
	configMu.Lock()
	defer configMu.Unlock()
	appConf = cfg
}

// DefaultAgentConfig 每个请求使用的默认智能体配置
func DefaultAgentConfig() model.AgentConfig {
	cfg := GetCfg()
	if cfg == nil {
		return model.DefaultAgentConfig()
	}
	return cfg.Agent
}

// applyDefaults 未配置的字段使用内置默认值
func (c *AppConfig) applyDefaults() error {
	if c.Agent.LLM.Name == "" {
		c.Agent.LLM.Name = c.Model.DefaultModel.ModelID
	}
	if c.Agent.LLM.Name == "" {
		c.Agent.LLM.Name = model.DefaultAgentConfig().LLM.Name
	}
	if err := mergo.Merge(&c.Search, defaultSearch); err != nil {
		return fmt.Errorf("merge default search config failed: %w", err)
	}
	if err := mergo.Merge(&c.Server, defaultServer); err != nil {
		return fmt.Errorf("merge default server config failed: %w", err)
	}
	if err := mergo.Merge(&c.Log, defaultLog); err != nil {
		return fmt.Errorf("merge default log config failed: %w", err)
	}
	return nil
}

// 非智能体部分的默认值，零值视为未配置
var (
	defaultSearch = SearchConfig{Provider: "tavily", Tavily: TavilyConfig{MaxResults: 3}}
	defaultServer = ServerConfig{Addr: ":8888"}
	defaultLog    = LogConfig{Path: "logs/app.log", Level: "debug"}
)

// Redacted 隐藏密钥后的配置副本，用于日志
func (c *AppConfig) Redacted() AppConfig {
	out := *c
	out.Model.DefaultModel.APIKey = mask(out.Model.DefaultModel.APIKey)
	out.Model.EmbeddingModel.APIKey = mask(out.Model.EmbeddingModel.APIKey)
	out.Search.Tavily.APIKey = mask(out.Search.Tavily.APIKey)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "******"
}

// startConfigWatch 启动配置文件监听
func startConfigWatch(path string) {
	f = file.Provider(path)
	if f == nil {
		log.Printf("file provider not initialized")
		return
	}

	// 监听文件变化并在变化时重新加载配置
	f.Watch(func(event interface{}, err error) {
		if err != nil {
			log.Printf("Config file watch error: %v", err)
			return
		}

		// 配置文件发生变化，重新加载
		log.Printf("Config file changed. Reloading...")
		cfg, err := Load(path)
		if err != nil {
			log.Printf("Failed to load reloaded config: %v", err)
			return
		}

		// 更新全局配置实例
		setCfg(cfg)
		log.Printf("Config reloaded: %+v", cfg.Redacted())
	})
}
