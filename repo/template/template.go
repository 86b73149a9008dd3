package template

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/HildaM/logs/slog"

	"github.com/hildam/adaptive-rag-go/prompts"
)

var (
	mu        sync.RWMutex
	promptDir string // 自定义模板目录，优先于内置模板
)

// SetPromptDir 设置自定义模板目录，为空则使用 ./prompts
func SetPromptDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	promptDir = dir
}

// GetPromptTemplate 加载并返回一个提示模板，磁盘上的同名文件优先，其次使用内置模板
func GetPromptTemplate(ctx context.Context, promptName string) (string, error) {
	fileName := fmt.Sprintf("%s.md", promptName)

	// 磁盘模板
	dir, err := currentDir()
	if err != nil {
		msg := fmt.Errorf("GetPromptTemplate failed, get current working directory, err: %w", err)
		slog.Error(msg.Error())
		return "", msg
	}
	content, err := os.ReadFile(filepath.Join(dir, fileName))
	if err == nil {
		return string(content), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		msg := fmt.Errorf("GetPromptTemplate failed, read template file, err: %w", err)
		slog.Error(msg.Error())
		return "", msg
	}

	// 内置模板
	content, err = fs.ReadFile(prompts.FS, fileName)
	if err != nil {
		msg := fmt.Errorf("GetPromptTemplate failed, template %s not found, err: %w", promptName, err)
		slog.Error(msg.Error())
		return "", msg
	}
	return string(content), nil
}

func currentDir() (string, error) {
	mu.RLock()
	dir := promptDir
	mu.RUnlock()
	if dir != "" {
		return dir, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, "prompts"), nil
}
