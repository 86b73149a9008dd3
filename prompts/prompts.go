// Package prompts 内置的提示词模板，文件名即任务名。
package prompts

import "embed"

// FS 内置模板
//
//go:embed *.md
var FS embed.FS
