package handler

import "strings"

// SummarizationSystemPrompt is sent as the system message by every LLM handler
// unless the handler config overrides it.
const SummarizationSystemPrompt = `Your goal is to write a brief but detailed summary of the text given to you.
Only output the summary without any headings or sections.
Provide the summary in markdown.`

// SummarizationPrompt embeds article content in the user prompt template.
func SummarizationPrompt(content string) string {
	var b strings.Builder
	b.WriteString("Summarize this article:\n\n")
	b.WriteString(content)
	b.WriteString("\n")
	return b.String()
}
