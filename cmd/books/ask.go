package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/pipeline"
	"github.com/Veraticus/the-books-must-balance/internal/ratelimit"
	"github.com/Veraticus/the-books-must-balance/internal/response"
	"github.com/spf13/cobra"
)

// maxClarifications bounds the question-and-answer rounds of one ask.
const maxClarifications = 3

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run one command and approve its preview interactively",
		Long: `Run a natural-language command through the full pipeline.

Examples:
  books ask "received 50000 from Acme Corp by bank"
  books ask "paid 12000 to Sharma Stationers, gst 18%"
  books ask "what is the balance of Acme Corp"
  books ask --yes "received 5000 from Acme Corp"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}
	cmd.Flags().BoolP("yes", "y", false, "approve low-risk previews without prompting")
	cmd.Flags().String("user", "", "operator name recorded in the audit log (default: $USER)")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	autoYes, _ := cmd.Flags().GetBool("yes")
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		user = os.Getenv("USER")
	}

	handler := cli.NewInterruptHandler(cmd.OutOrStdout())
	ctx := handler.HandleInterrupts(cmd.Context())

	a, err := newApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	caller := ratelimit.Caller{ID: "cli", UserID: user}
	prompter := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	out := cmd.OutOrStdout()

	resp := a.pipeline.Command(ctx, pipeline.Command{Message: strings.Join(args, " "), Caller: caller})
	for round := 0; resp.Type == response.TypeClarification && round < maxClarifications; round++ {
		if err := cli.Render(out, resp); err != nil {
			return err
		}
		answer, err := prompter.Answer(ctx)
		if err != nil {
			return askError(handler, err)
		}
		if answer == "" {
			_, err := fmt.Fprintln(out, cli.FormatInfo("Nothing recorded."))
			return err
		}
		resp = a.pipeline.Command(ctx, pipeline.Command{Message: answer, Caller: caller})
	}

	if err := cli.Render(out, resp); err != nil {
		return err
	}
	if resp.Type != response.TypePreview || resp.Preview == nil {
		return nil
	}

	decision := cli.Decision{Confirmation: model.ConfirmSingle, Approved: true}
	if !autoYes || resp.Preview.RequiredConfirmation != model.ConfirmSingle {
		if decision, err = prompter.Approve(ctx, resp.Preview); err != nil {
			return askError(handler, err)
		}
	}

	result := a.pipeline.Approve(ctx, pipeline.ApproveRequest{
		Caller:        caller,
		TransactionID: resp.Preview.TransactionID,
		Confirmation:  decision.Confirmation,
		Approved:      decision.Approved,
	})
	return cli.Render(out, result)
}

func askError(handler *cli.InterruptHandler, err error) error {
	if handler.WasInterrupted() || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
