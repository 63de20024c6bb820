package breakdown

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	xerrors "PromptForge-MCP/internal/errors"
	"PromptForge-MCP/internal/refine"
)

// CodeUnparsableResponse 表示模型回复中没有任何可识别的子任务条目。
const CodeUnparsableResponse xerrors.Code = "UNPARSABLE_RESPONSE"

func init() {
	xerrors.Register(CodeUnparsableResponse, xerrors.Attributes{
		Message:   "no sub-tasks found in model response",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

// SubTask 是拆解结果中的一个原子工作单元。顺序即建议的执行顺序。
type SubTask struct {
	Description string `json:"description"`
	Complexity  int    `json:"complexity"`
}

// Options 控制解析的容错参数，取值来自配置而非硬编码。
type Options struct {
	MinComplexity int
	MaxComplexity int
	JSONFallback  bool
}

// DefaultOptions 返回与配置默认值一致的解析参数。
func DefaultOptions() Options {
	return Options{MinComplexity: 1, MaxComplexity: 10, JSONFallback: true}
}

// linePattern 匹配"可选列表标记 + 描述 + (complexity: N)"形式的行。
var linePattern = regexp.MustCompile(`(?i)^\s*(?:[-*•]\s*|\d+\s*[.)]\s*)?(.*?)\s*\(\s*complexity\s*:\s*(\d+)\s*\)`)

// fencePattern 匹配围栏代码块，JSON 兜底解析时优先取围栏内容。
var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Parse 从模型的自由文本回复中提取有序的子任务列表。
// 逐行扫描，无法匹配的行直接跳过；复杂度超出边界时贴边收敛；
// 行扫描一无所获且开启兜底时再尝试解析文本中的 JSON 数组。
// 完全解析不出任何条目时返回 UNPARSABLE_RESPONSE。
func Parse(raw string, opts Options) ([]SubTask, error) {
	if opts.MinComplexity <= 0 {
		opts.MinComplexity = 1
	}
	if opts.MaxComplexity < opts.MinComplexity {
		opts.MaxComplexity = opts.MinComplexity
	}

	cleaned := refine.CleanResponse(raw)

	tasks := parseLines(cleaned, opts)
	if len(tasks) == 0 && opts.JSONFallback {
		tasks = parseJSON(cleaned, opts)
	}

	if len(tasks) == 0 {
		return nil, xerrors.New(CodeUnparsableResponse, "模型回复中没有可识别的子任务",
			xerrors.WithMetadata("raw_response", truncate(raw, 2000)))
	}
	return tasks, nil
}

func parseLines(text string, opts Options) []SubTask {
	var tasks []SubTask
	for _, line := range strings.Split(text, "\n") {
		match := linePattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		description := strings.TrimSpace(match[1])
		if description == "" {
			continue
		}
		complexity, err := strconv.Atoi(match[2])
		if err != nil {
			continue
		}
		tasks = append(tasks, SubTask{
			Description: description,
			Complexity:  clamp(complexity, opts.MinComplexity, opts.MaxComplexity),
		})
	}
	return tasks
}

// parseJSON 在自由文本中定位一个 JSON 数组并按同样的跳过/收敛规则解析。
func parseJSON(text string, opts Options) []SubTask {
	candidate := text
	if match := fencePattern.FindStringSubmatch(text); match != nil {
		candidate = match[1]
	}

	start := strings.Index(candidate, "[")
	end := strings.LastIndex(candidate, "]")
	if start == -1 || end <= start {
		return nil
	}

	var decoded []struct {
		Description string `json:"description"`
		Task        string `json:"task"`
		Complexity  int    `json:"complexity"`
	}
	if err := json.Unmarshal([]byte(candidate[start:end+1]), &decoded); err != nil {
		return nil
	}

	var tasks []SubTask
	for _, item := range decoded {
		description := strings.TrimSpace(item.Description)
		if description == "" {
			description = strings.TrimSpace(item.Task)
		}
		if description == "" {
			continue
		}
		tasks = append(tasks, SubTask{
			Description: description,
			Complexity:  clamp(item.Complexity, opts.MinComplexity, opts.MaxComplexity),
		})
	}
	return tasks
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "... (truncated)"
}
