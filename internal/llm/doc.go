// Package llm 定义与大模型后端交互的统一抽象。
// 具体传输实现位于子包 openai、anthropic 与 command，
// provider 子包负责按配置组装并按名称解析这些客户端。
package llm
