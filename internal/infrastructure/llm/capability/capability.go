// Package capability implements the prompted pipeline stages on top of a
// plain text completer.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/ports"
)

// RelevanceClassifier answers YES/NO on whether a query is in scope.
type RelevanceClassifier struct {
	completer ports.TextCompleter
}

func NewRelevanceClassifier(completer ports.TextCompleter) *RelevanceClassifier {
	return &RelevanceClassifier{completer: completer}
}

func (c *RelevanceClassifier) Classify(ctx context.Context, query string) (domain.Intent, error) {
	out, err := c.completer.Complete(ctx, relevanceSystemPrompt, query, classifyTemperature)
	if err != nil {
		return domain.Intent{}, err
	}
	switch firstWord(out) {
	case "YES":
		return domain.Relevant(""), nil
	case "NO":
		return domain.OutOfScope(), nil
	default:
		return domain.Intent{}, domain.WrapError(domain.ErrCapability, "classify relevance", fmt.Errorf("unexpected verdict %q", out))
	}
}

// firstWord returns the leading run of letters, upper-cased.
func firstWord(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(words) == 0 {
		return ""
	}
	return strings.ToUpper(words[0])
}

// IntentAnalyzer classifies greeting, in-scope and invalid queries and
// rewrites in-scope ones into a search query.
type IntentAnalyzer struct {
	completer ports.TextCompleter
}

func NewIntentAnalyzer(completer ports.TextCompleter) *IntentAnalyzer {
	return &IntentAnalyzer{completer: completer}
}

type analysis struct {
	Intent      string `json:"intent"`
	SearchQuery string `json:"search_query"`
}

func (a *IntentAnalyzer) Classify(ctx context.Context, query string) (domain.Intent, error) {
	out, err := a.completer.Complete(ctx, analyzerSystemPrompt, query, classifyTemperature)
	if err != nil {
		return domain.Intent{}, err
	}

	var parsed analysis
	if err := json.Unmarshal([]byte(extractJSONObject(out)), &parsed); err != nil {
		return domain.Intent{}, domain.WrapError(domain.ErrCapability, "parse analyzer json", err)
	}

	switch strings.ToUpper(strings.TrimSpace(parsed.Intent)) {
	case "MENTAL_HEALTH":
		return domain.Relevant(strings.TrimSpace(parsed.SearchQuery)), nil
	case "GREETING":
		return domain.Greeting(), nil
	case "INVALID":
		return domain.OutOfScope(), nil
	default:
		return domain.Intent{}, domain.WrapError(domain.ErrCapability, "parse analyzer json", fmt.Errorf("unknown intent %q", parsed.Intent))
	}
}

// Expander asks for alternate search queries, one per line.
type Expander struct {
	completer ports.TextCompleter
}

func NewExpander(completer ports.TextCompleter) *Expander {
	return &Expander{completer: completer}
}

func (e *Expander) Expand(ctx context.Context, query string) ([]string, error) {
	out, err := e.completer.Complete(ctx, expansionSystemPrompt, query, expandTemperature)
	if err != nil {
		return nil, err
	}
	var queries []string
	for _, line := range strings.Split(out, "\n") {
		if q := trimListMarker(line); q != "" {
			queries = append(queries, q)
		}
	}
	return queries, nil
}

// trimListMarker strips "1.", "2)", "-" and "*" prefixes models add despite
// instructions.
func trimListMarker(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-*• ")
	if i := strings.IndexAny(line, ".)"); i > 0 && i <= 2 {
		digits := true
		for _, r := range line[:i] {
			if r < '0' || r > '9' {
				digits = false
				break
			}
		}
		if digits {
			line = line[i+1:]
		}
	}
	return strings.TrimSpace(line)
}

// Generator writes an answer constrained to the retrieved chunks.
type Generator struct {
	completer ports.TextCompleter
}

func NewGenerator(completer ports.TextCompleter) *Generator {
	return &Generator{completer: completer}
}

func (g *Generator) Generate(ctx context.Context, question string, chunks []domain.DocumentChunk) (string, error) {
	if len(chunks) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "generate answer", errors.New("no context chunks"))
	}
	return g.completer.Complete(ctx, answerSystemPrompt, buildAnswerPrompt(question, chunks), generateTemperature)
}

// SupportChecker asks for a PASS/FAIL verdict on whether an answer is backed
// by the chunks.
type SupportChecker struct {
	completer ports.TextCompleter
}

func NewSupportChecker(completer ports.TextCompleter) *SupportChecker {
	return &SupportChecker{completer: completer}
}

func (c *SupportChecker) Supports(ctx context.Context, chunks []domain.DocumentChunk, answer string) (bool, error) {
	if len(chunks) == 0 {
		return false, nil
	}
	out, err := c.completer.Complete(ctx, validationSystemPrompt, buildValidationPrompt(chunks, answer), validateTemperature)
	if err != nil {
		return false, err
	}
	verdict := strings.ToUpper(out)
	return strings.Contains(verdict, "PASS") && !strings.Contains(verdict, "FAIL"), nil
}
