package refine

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"PromptForge-MCP/internal/config"
	xerrors "PromptForge-MCP/internal/errors"
)

// 本包注册的错误码。
const (
	CodeEmptyPrompt           xerrors.Code = "EMPTY_PROMPT"
	CodeUnknownRefinementType xerrors.Code = "UNKNOWN_REFINEMENT_TYPE"
)

func init() {
	xerrors.Register(CodeEmptyPrompt, xerrors.Attributes{
		Message:   "prompt is empty",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeUnknownRefinementType, xerrors.Attributes{
		Message:   "unknown refinement type",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// thinkPattern 匹配推理模型输出中的 <think> 思考块。
var thinkPattern = regexp.MustCompile(`(?is)<think>.*?</think>`)

// Refiner 持有提示词模板集合，按类型将原始提示词合成为可执行的提示词。
// 构建完成后只读，可被任意数量的并发请求安全使用。
type Refiner struct {
	templates map[string]string
}

// NewRefiner 构建模板集合。优先级从低到高：内置模板、配置内联模板、
// prompts_directory 下的 <type>.md 文件。
func NewRefiner(cfg config.RefinementConfig) (*Refiner, error) {
	templates := make(map[string]string, len(builtinTemplates))
	for name, tpl := range builtinTemplates {
		templates[name] = tpl
	}

	for name, tpl := range cfg.Templates {
		name = strings.TrimSpace(name)
		if name == "" || strings.TrimSpace(tpl) == "" {
			continue
		}
		templates[name] = tpl
	}

	if dir := strings.TrimSpace(cfg.PromptsDirectory); dir != "" {
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取模板目录失败",
				xerrors.WithMetadata("prompts_directory", dir))
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".md") {
				continue
			}
			content, err := os.ReadFile(filepath.Join(dir, file.Name()))
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取模板文件失败",
					xerrors.WithMetadata("file", file.Name()))
			}
			name := strings.TrimSuffix(file.Name(), ".md")
			templates[name] = string(content)
		}
	}

	return &Refiner{templates: templates}, nil
}

// Refine 将原始提示词按类型合入模板，提示词本身原样插入，不做转义或截断。
// 模板中没有 {prompt} 占位符时，原始提示词隔一个空行追加在模板之后。
func (r *Refiner) Refine(rawPrompt, refinementType string) (string, error) {
	if strings.TrimSpace(rawPrompt) == "" {
		return "", xerrors.New(CodeEmptyPrompt, "提示词不能为空")
	}

	template, err := r.Template(refinementType)
	if err != nil {
		return "", err
	}

	if strings.Contains(template, PlaceholderPrompt) {
		return strings.ReplaceAll(template, PlaceholderPrompt, rawPrompt), nil
	}
	return template + "\n\n" + rawPrompt, nil
}

// Template 返回指定类型的模板。空类型视为 default，coding 是 code 的别名。
func (r *Refiner) Template(refinementType string) (string, error) {
	name := normalizeType(refinementType)
	template, ok := r.templates[name]
	if !ok {
		return "", xerrors.New(CodeUnknownRefinementType, "未注册的 refinement 类型",
			xerrors.WithMetadata("refinement_type", refinementType),
			xerrors.WithMetadata("known_types", strings.Join(r.Types(), ", ")))
	}
	return template, nil
}

// Types 返回排序后的已注册类型名称。
func (r *Refiner) Types() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeType(refinementType string) string {
	name := strings.TrimSpace(refinementType)
	switch name {
	case "":
		return "default"
	case "coding":
		// 原始工具链同时接受这两种写法。
		return "code"
	default:
		return name
	}
}

// Render 对模板做通用的 {name} 占位符替换，用于多变量模板。
// 只替换出现的占位符，不做追加兜底。
func Render(template string, vars map[string]string) string {
	result := template
	for name, value := range vars {
		result = strings.ReplaceAll(result, fmt.Sprintf("{%s}", name), value)
	}
	return result
}

// CleanResponse 去掉推理模型输出中的 <think> 思考块并修剪首尾空白。
func CleanResponse(s string) string {
	return strings.TrimSpace(thinkPattern.ReplaceAllString(s, ""))
}
