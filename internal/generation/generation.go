// Package generation is the boundary to the external text-generation service.
package generation

import (
	"context"
	"strings"

	"github.com/hpungsan/inkwell/internal/errors"
)

// Kind distinguishes template sections from single-shot tools.
type Kind string

const (
	KindSection Kind = "section"
	KindTool    Kind = "tool"
)

// Request is one generation call.
type Request struct {
	Kind       Kind   `json:"kind"`
	TemplateID string `json:"template_id,omitempty"`
	SectionID  string `json:"section_id,omitempty"`
	ToolID     string `json:"tool_id,omitempty"`

	// Prompt is the composed instruction.
	Prompt string `json:"prompt"`

	// Input is the text a tool operates on (the captured selection).
	Input string `json:"input,omitempty"`
}

// Generator produces text for a request. Implementations must honor ctx
// cancellation and be safe to retry. Failures are GENERATION_FAILURE.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Generator. Errors that are not already
// GENERATION_FAILURE are wrapped as one.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	out, err := f(ctx, req)
	if err != nil {
		if errors.Is(err, errors.ErrGenerationFailure) {
			return "", err
		}
		return "", errors.NewGenerationFailure(err)
	}
	return out, nil
}

// Echo returns a deterministic Generator for offline use: it echoes the
// prompt's first line (sections) or the upper-cased input (tools).
func Echo() Generator {
	return Func(func(ctx context.Context, req Request) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if req.Kind == KindTool {
			return strings.ToUpper(req.Input), nil
		}
		line, _, _ := strings.Cut(strings.TrimSpace(req.Prompt), "\n")
		return line, nil
	})
}
