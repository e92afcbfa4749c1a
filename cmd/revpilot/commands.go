package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"revpilot/internal/domain"
	"revpilot/internal/usecase"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the GoHighLevel connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			services, _, err := session(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			gate := services.Gate.Check(cmd.Context())
			cfg := services.Config
			fmt.Fprintf(out, "Backend:     %s\n", cfg.API.BaseURL)
			fmt.Fprintf(out, "User:        %s\n", cfg.API.UserID)
			fmt.Fprintf(out, "GoHighLevel: %s\n", gate)
			fmt.Fprintf(out, "Voice:       %s\n", voiceModeLabel(cfg.Voice.Demo))
			fmt.Fprintf(out, "Mode:        %s\n", services.Orchestrator.Mode())
			return nil
		},
	}
}

func newAskCmd() *cobra.Command {
	var speak bool

	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask the copilot one question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, _, err := session(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer services.Speech.Stop()
			if !speak {
				if err := services.Orchestrator.SetMode(domain.ModeSilent); err != nil {
					return err
				}
			}

			_, err = services.Orchestrator.SubmitTurn(cmd.Context(), strings.Join(args, " "), domain.OriginText)
			printConversation(cmd.OutOrStdout(), services.Orchestrator)
			if code, ok := usecase.ErrorCodeOf(err); ok && code != usecase.ErrorEmptyInput {
				// Already shown as the assistant turn.
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&speak, "speak", false, "Play the answer through the configured speech player")
	return cmd
}

func newVoiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voice",
		Short: "Run one voice session: speak, press Enter, hear the reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			services, sink, err := session(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			controller := services.Controller
			defer controller.Release()

			if services.Config.Copilot.RequireCRM {
				gate := services.Gate.Check(ctx)
				controller.SetDisabled(gate != domain.GateConnected, usecase.DisconnectedMessage)
			}

			if err := controller.Activate(ctx); err != nil {
				return err
			}

			if controller.Status().State == domain.VoiceStateListening {
				fmt.Fprintln(out, "Listening. Press Enter when you are done speaking.")
				waitForEnter(cmd.InOrStdin())
			}
			if err := controller.Stop(ctx); err != nil {
				return err
			}

			for _, result := range sink.takeResults() {
				if _, err := services.Orchestrator.SubmitVoiceResult(ctx, result); err != nil {
					if _, ok := usecase.ErrorCodeOf(err); !ok {
						return err
					}
				}
			}
			printConversation(out, services.Orchestrator)
			return nil
		},
	}
}

func waitForEnter(in io.Reader) {
	reader := bufio.NewReader(in)
	_, _ = reader.ReadString('\n')
}

func printConversation(out io.Writer, orchestrator *usecase.Orchestrator) {
	for _, turn := range orchestrator.Conversation() {
		label := "You"
		if turn.Role == domain.RoleAssistant {
			label = "Copilot"
		}
		fmt.Fprintf(out, "%s: %s\n", label, turn.Text)
		if turn.Metrics != nil {
			printMetrics(out, *turn.Metrics)
		}
	}
}

func printMetrics(out io.Writer, metrics domain.Metrics) {
	if metrics.CashAtRisk != nil {
		fmt.Fprintf(out, "  Cash at risk: $%.0f across %d deals\n", metrics.CashAtRisk.Amount, metrics.CashAtRisk.Deals)
	}
	if metrics.Velocity != nil {
		fmt.Fprintf(out, "  Velocity: %s (%+.1f%% WoW)\n", metrics.Velocity.Label, metrics.Velocity.WoW)
	}
	if metrics.NextBestAction != nil {
		fmt.Fprintf(out, "  Next best action: %s\n", metrics.NextBestAction.Label)
		if metrics.NextBestAction.Detail != "" {
			fmt.Fprintf(out, "    %s\n", metrics.NextBestAction.Detail)
		}
	}
}

func voiceModeLabel(demo bool) string {
	if demo {
		return "demo (microphone untouched)"
	}
	return "live microphone"
}
