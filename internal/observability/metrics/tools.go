// Package metrics 以 Prometheus 文本格式暴露工具调用指标，
// 不引入 client 库依赖，便于在 stdio 部署中完全关闭。
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type callKey struct {
	tool    string
	outcome string
}

type errorKey struct {
	tool string
	code string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu       sync.Mutex
	calls    map[callKey]uint64
	errors   map[errorKey]uint64
	duration map[string]*histogram
}

var toolCollector = &collector{
	calls:    make(map[callKey]uint64),
	errors:   make(map[errorKey]uint64),
	duration: make(map[string]*histogram),
}

// ObserveToolCall 记录一次工具调用。code 为空表示调用成功。
func ObserveToolCall(tool, code string, duration time.Duration) {
	toolCollector.observe(tool, code, duration)
}

func (c *collector) observe(tool, code string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome := "ok"
	if code != "" {
		outcome = "error"
		c.errors[errorKey{tool: tool, code: code}]++
	}
	c.calls[callKey{tool: tool, outcome: outcome}]++

	hist := c.duration[tool]
	if hist == nil {
		hist = newHistogram()
		c.duration[tool] = hist
	}
	hist.observe(duration.Seconds())
}

// 模型调用以秒计，桶上界覆盖到默认超时。
func newHistogram() *histogram {
	buckets := []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// Handler 以 Prometheus 文本格式输出当前指标快照。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, toolCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type callMetric struct {
		callKey
		value uint64
	}
	type errorMetric struct {
		errorKey
		value uint64
	}
	type durationMetric struct {
		tool    string
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}

	calls := make([]callMetric, 0, len(c.calls))
	for key, value := range c.calls {
		calls = append(calls, callMetric{callKey: key, value: value})
	}
	errs := make([]errorMetric, 0, len(c.errors))
	for key, value := range c.errors {
		errs = append(errs, errorMetric{errorKey: key, value: value})
	}
	durs := make([]durationMetric, 0, len(c.duration))
	for tool, hist := range c.duration {
		durs = append(durs, durationMetric{
			tool:    tool,
			buckets: append([]float64(nil), hist.buckets...),
			counts:  append([]uint64(nil), hist.counts...),
			sum:     hist.sum,
			count:   hist.count,
		})
	}

	sort.Slice(calls, func(i, j int) bool {
		if calls[i].tool == calls[j].tool {
			return calls[i].outcome < calls[j].outcome
		}
		return calls[i].tool < calls[j].tool
	})
	sort.Slice(errs, func(i, j int) bool {
		if errs[i].tool == errs[j].tool {
			return errs[i].code < errs[j].code
		}
		return errs[i].tool < errs[j].tool
	})
	sort.Slice(durs, func(i, j int) bool {
		return durs[i].tool < durs[j].tool
	})

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP promptforge_tool_calls_total Total number of MCP tool calls processed.\n")
	builder.WriteString("# TYPE promptforge_tool_calls_total counter\n")
	for _, metric := range calls {
		builder.WriteString(fmt.Sprintf("promptforge_tool_calls_total{tool=\"%s\",outcome=\"%s\"} %d\n",
			escape(metric.tool), escape(metric.outcome), metric.value))
	}

	builder.WriteString("# HELP promptforge_tool_errors_total Total number of tool calls that failed, by error code.\n")
	builder.WriteString("# TYPE promptforge_tool_errors_total counter\n")
	for _, metric := range errs {
		builder.WriteString(fmt.Sprintf("promptforge_tool_errors_total{tool=\"%s\",code=\"%s\"} %d\n",
			escape(metric.tool), escape(metric.code), metric.value))
	}

	builder.WriteString("# HELP promptforge_tool_duration_seconds Tool call duration in seconds.\n")
	builder.WriteString("# TYPE promptforge_tool_duration_seconds histogram\n")
	for _, metric := range durs {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("promptforge_tool_duration_seconds_bucket{tool=\"%s\",le=\"%s\"} %d\n",
				escape(metric.tool), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("promptforge_tool_duration_seconds_bucket{tool=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.tool), metric.count))
		builder.WriteString(fmt.Sprintf("promptforge_tool_duration_seconds_sum{tool=\"%s\"} %s\n",
			escape(metric.tool), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("promptforge_tool_duration_seconds_count{tool=\"%s\"} %d\n",
			escape(metric.tool), metric.count))
	}

	return builder.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
