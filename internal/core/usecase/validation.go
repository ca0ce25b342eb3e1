package usecase

import (
	"context"
	"log/slog"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/ports"
)

// ValidationGate fails closed: no context or a checker error both reject the
// answer.
type ValidationGate struct {
	checker ports.SupportChecker
	logger  *slog.Logger
}

func NewValidationGate(checker ports.SupportChecker, logger *slog.Logger) *ValidationGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValidationGate{checker: checker, logger: logger}
}

func (g *ValidationGate) Check(ctx context.Context, chunks []domain.DocumentChunk, answer string) bool {
	ok, _ := g.check(ctx, chunks, answer)
	return ok
}

// check also reports the checker error so the pipeline can observe it.
func (g *ValidationGate) check(ctx context.Context, chunks []domain.DocumentChunk, answer string) (bool, error) {
	if len(chunks) == 0 || g.checker == nil {
		return false, nil
	}
	supported, err := g.checker.Supports(ctx, chunks, answer)
	if err != nil {
		g.logger.Warn("validation_check_failed", "error", err)
		return false, err
	}
	return supported, nil
}
