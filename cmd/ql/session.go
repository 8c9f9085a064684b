package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"questline/internal/app"
	"questline/internal/domain"
	"questline/internal/engine"
	"questline/internal/repo"
	"questline/internal/save"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Hosted sessions in the workspace database",
		Long:  "Sessions are runs stored in .questline/questline.db. Every step is recorded in the event log.",
	}
	cmd.AddCommand(sessionStartCmd())
	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionOptionsCmd())
	cmd.AddCommand(sessionOutcomeCmd())
	cmd.AddCommand(sessionChooseCmd())
	cmd.AddCommand(sessionStepCmd("retry-fork", "Return to the most recent fork", engine.OpRetryFromFork))
	cmd.AddCommand(sessionStepCmd("retry-checkpoint", "Return to the most recent checkpoint", engine.OpRetryFromCheckpoint))
	cmd.AddCommand(sessionStepCmd("start-over", "Restart from the beginning of the campaign", engine.OpStartOver))
	cmd.AddCommand(sessionStepCmd("leave", "End the session", engine.OpLeave))
	cmd.AddCommand(sessionExportCmd())
	return cmd
}

func sessionStartCmd() *cobra.Command {
	var campaignID, from string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session, fresh or from a save",
		RunE: func(cmd *cobra.Command, args []string) error {
			if campaignID == "" && from == "" {
				return fmt.Errorf("--campaign-id or --from required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts := engine.StartOptions{CampaignID: campaignID, PlayerID: viper.GetString("player-id")}
				if from != "" {
					err := withSaves(ctx, func(ctx context.Context, saves save.Router) error {
						state, err := saves.Load(ctx, from)
						if err != nil {
							return err
						}
						opts.From = &state
						return nil
					})
					if err != nil {
						return err
					}
				}
				s, err := a.Engine.StartSession(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Session %s started for %s\n", s.ID, s.PlayerID)
				if c, err := a.Engine.Campaign(s.CampaignID); err == nil {
					if enc, ok := c.Encounter(s.State.EncounterID); ok {
						printEncounter(enc)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign-id", "", "campaign id from the campaign directory")
	cmd.Flags().StringVar(&from, "from", "", "resume from a save (path or redis:<key>)")
	return cmd
}

func sessionListCmd() *cobra.Command {
	var f repo.SessionFilters
	var status string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				f.Status = domain.SessionStatus(status)
				if !all {
					f.PlayerID = viper.GetString("player-id")
				}
				items, err := a.Engine.ListSessions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Campaign", "Player", "Status", "Encounter", "XP", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.CampaignID, s.PlayerID, s.Status, s.State.EncounterID, s.State.XPEarned, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CampaignID, "campaign-id", "", "campaign filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter (active|ended|completed)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max sessions")
	cmd.Flags().BoolVar(&all, "all", false, "include every player's sessions")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func sessionOptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options <session-id>",
		Short: "List the recovery options a failure would offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts, err := a.Engine.RecoveryOptions(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(opts)
			})
		},
	}
}

func applySessionAction(ctx context.Context, a *app.Context, sessionID string, action engine.Action) error {
	res, err := a.Engine.Apply(ctx, sessionID, viper.GetString("player-id"), action)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(res)
	}
	var current domain.Encounter
	if c, err := a.Engine.Campaign(res.Session.CampaignID); err == nil {
		current, _ = c.Encounter(res.Session.State.EncounterID)
	}
	return printTransition(res.Transition, res.Session.State, current)
}

func sessionOutcomeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outcome <session-id> success|failure",
		Short: "Report the result of the current encounter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			success, err := parseOutcome(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return applySessionAction(ctx, a, args[0], engine.Action{Op: engine.OpRecordOutcome, Success: success})
			})
		},
	}
}

func sessionChooseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "choose <session-id> <choice-id>",
		Short: "Resolve the current fork",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return applySessionAction(ctx, a, args[0], engine.Action{Op: engine.OpMakeChoice, ChoiceID: args[1]})
			})
		},
	}
}

func sessionStepCmd(use, short string, op engine.Operation) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return applySessionAction(ctx, a, args[0], engine.Action{Op: op})
			})
		},
	}
}

func sessionExportCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write a session's progress to a save",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return withSaves(ctx, func(ctx context.Context, saves save.Router) error {
					state, err := a.Engine.Export(ctx, args[0], saves, to)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(state)
					}
					fmt.Printf("Exported session %s to %s (%d XP)\n", args[0], to, state.XPEarned)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "save destination: a .yaml/.json path or redis:<key>")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
