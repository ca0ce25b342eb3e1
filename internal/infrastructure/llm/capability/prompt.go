package capability

import (
	"fmt"
	"strings"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

const (
	classifyTemperature = 0.0
	expandTemperature   = 0.3
	generateTemperature = 0.3
	validateTemperature = 0.0
)

const relevanceSystemPrompt = `You are a strict classifier.
Decide whether the user input is related to mental health, psychology or psychiatry.
Reply with exactly one word: YES or NO.`

const analyzerSystemPrompt = `You are the query analyzer of a mental health assistant.
Return a JSON object with exactly two keys:
intent (string): GREETING, MENTAL_HEALTH or INVALID. Use INVALID for other medical topics and anything unrelated.
search_query (string): for MENTAL_HEALTH, one search query combining clinical terms with the user's context; otherwise "".
No markdown, no extra keys.`

const expansionSystemPrompt = `You optimize searches over a clinical mental health knowledge base.
Rewrite the user's query as 3 distinct search queries:
a clinical query using standard terminology (WHO, ICD-11, DSM-5),
a protocol query for guidelines, legal forms or referral pathways,
a short keyword query.
Output only the 3 queries, one per line. No numbering, no labels.`

const answerSystemPrompt = `You are a specialized mental health assistant.
Answer the question strictly from the provided context. Do not use outside knowledge.
If the context does not contain the answer, say that you don't know.
Be empathetic but professional.`

const validationSystemPrompt = `You evaluate answers of a mental health retrieval system.
Compare the answer against the context.
Reply PASS if the answer is supported by the context, even when summarized or rephrased.
Reply FAIL if the answer states specific facts (numbers, laws, names, dosages) that appear nowhere in the context.
Be generous with style and strict with facts.
Output only PASS or FAIL.`

func buildAnswerPrompt(question string, chunks []domain.DocumentChunk) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s", formatContext(chunks), question)
}

func buildValidationPrompt(chunks []domain.DocumentChunk, answer string) string {
	var b strings.Builder
	for idx, chunk := range chunks {
		if idx > 0 {
			b.WriteString("\n")
		}
		b.WriteString(chunk.Content())
	}
	return fmt.Sprintf("Context: %s\n\nAnswer: %s", b.String(), answer)
}

func formatContext(chunks []domain.DocumentChunk) string {
	var b strings.Builder
	for idx, chunk := range chunks {
		if idx > 0 {
			b.WriteString("\n\n")
		}
		meta := chunk.Metadata()
		source := meta.Source
		if meta.Page > 0 {
			source = fmt.Sprintf("%s (page %d)", meta.Source, meta.Page)
		}
		fmt.Fprintf(&b, "Source: %s\nContent: %s", source, chunk.Content())
	}
	return b.String()
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
