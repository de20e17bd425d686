package application

import (
	"context"

	"github.com/bnema/gateway-pool/internal/stream"
)

// Planner turns a free-form prompt into text that embeds a JSON action.
// Plan returns after its terminal write.
type Planner interface {
	Plan(ctx context.Context, prompt string, out stream.Writer) error
}

// LiteralPlanner echoes the prompt, so callers can send a JSON action as is.
type LiteralPlanner struct{}

func (LiteralPlanner) Plan(ctx context.Context, prompt string, out stream.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out.Write(stream.Message(prompt))
	out.Write(stream.Done())
	return nil
}
