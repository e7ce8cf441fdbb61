package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/response"
	"github.com/shopspring/decimal"
)

// Decision is the operator's verdict on a preview.
type Decision struct {
	Confirmation model.Confirmation
	Approved     bool
}

// Prompter asks the operator to approve previews and answer clarifications.
type Prompter struct {
	reader *LineReader
	writer io.Writer
}

// NewPrompter reads from r and writes prompts to w. nil means stdin/stdout.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &Prompter{reader: NewLineReader(r), writer: w}
}

// Approve asks for the gesture p requires. Anything other than the expected
// answer rejects the preview.
func (p *Prompter) Approve(ctx context.Context, preview *response.Preview) (Decision, error) {
	switch preview.RequiredConfirmation {
	case model.ConfirmAcknowledge:
		answer, err := p.ask(ctx, fmt.Sprintf("%d warning(s) above. Type 'ack' to acknowledge and record", len(preview.Warnings)))
		if err != nil {
			return Decision{}, err
		}
		if !strings.EqualFold(answer, "ack") {
			return Decision{Confirmation: model.ConfirmAcknowledge}, nil
		}
		return Decision{Confirmation: model.ConfirmAcknowledge, Approved: true}, nil

	case model.ConfirmDouble:
		answer, err := p.ask(ctx, "Record this voucher? [y/N]")
		if err != nil {
			return Decision{}, err
		}
		if !yes(answer) {
			return Decision{Confirmation: model.ConfirmDouble}, nil
		}
		answer, err = p.ask(ctx, "Type the amount again to confirm")
		if err != nil {
			return Decision{}, err
		}
		typed, parseErr := decimal.NewFromString(strings.NewReplacer(",", "", "₹", "").Replace(answer))
		if parseErr != nil || !typed.Equal(preview.Document.Amount) {
			if _, err := fmt.Fprintln(p.writer, FormatWarning("Amount did not match. Nothing was recorded.")); err != nil {
				return Decision{}, fmt.Errorf("failed to write mismatch notice: %w", err)
			}
			return Decision{Confirmation: model.ConfirmDouble}, nil
		}
		return Decision{Confirmation: model.ConfirmDouble, Approved: true}, nil

	default:
		answer, err := p.ask(ctx, "Record this voucher? [y/N]")
		if err != nil {
			return Decision{}, err
		}
		return Decision{Confirmation: model.ConfirmSingle, Approved: yes(answer)}, nil
	}
}

// Answer reads a reply to a clarification. An empty reply abandons it.
func (p *Prompter) Answer(ctx context.Context) (string, error) {
	return p.ask(ctx, "Your answer")
}

func (p *Prompter) ask(ctx context.Context, prompt string) (string, error) {
	if _, err := fmt.Fprint(p.writer, FormatPrompt(prompt)); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}
	answer, err := p.reader.ReadLine(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", err
	}
	return answer, nil
}

func yes(answer string) bool {
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
