package refine

// PlaceholderPrompt 是模板中插入原始提示词的占位符。
const PlaceholderPrompt = "{prompt}"

// 内置模板集合。配置中的 refinement.templates 与 prompts_directory
// 可按类型覆盖其中任意一项。
var builtinTemplates = map[string]string{
	"default": `You are an expert prompt engineer. Improve the prompt below so that a
large language model produces a precise, complete and well-structured answer.
Enrich it with helpful context, resolve ambiguities and state the expected
output format explicitly. Return only the improved prompt, nothing else.

Prompt to refine:
{prompt}`,

	"code": `You are an expert software engineer and prompt engineer. Rewrite the
coding task below into a precise implementation prompt: name the language and
relevant frameworks, spell out inputs, outputs, edge cases and error handling,
and require idiomatic, tested code. Return only the improved prompt, nothing
else.

Coding task to refine:
{prompt}`,

	"task_breakdown": `Break the following task down into an ordered list of small,
actionable sub-tasks. Write exactly one sub-task per line in the format:

1. <sub-task description> (complexity: <1-10>)

The complexity score rates relative effort from 1 (trivial) to 10 (very hard).
Do not add any other commentary.

Task:
{prompt}`,

	"topic_generation": `Invent one interesting, concrete topic that would be rewarding
to brainstorm about. Answer with the topic in a single short line and nothing
else.`,

	"idea_generation": `Generate {count} distinct, creative and concrete ideas on the
topic below. Separate the ideas with a line containing only "---". Each idea
should be a short paragraph that someone could act on.

Topic:
{topic}`,
}
