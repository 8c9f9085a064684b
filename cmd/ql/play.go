package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"questline/internal/definition"
	"questline/internal/domain"
	"questline/internal/machine"
	"questline/internal/save"
)

type playFlags struct {
	campaign string
	save     string
}

func (f *playFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.campaign, "campaign", "", "campaign YAML file")
	cmd.Flags().StringVar(&f.save, "save", "questline-save.yaml", "save destination: a .yaml/.json path or redis:<key>")
	_ = cmd.MarkFlagRequired("campaign")
}

func playCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a campaign from a save file",
		Long: `Single-player play without a database. Each command loads the campaign and
the save, applies one step and writes the save back.`,
	}
	cmd.AddCommand(playStartCmd())
	cmd.AddCommand(playStatusCmd())
	cmd.AddCommand(playOptionsCmd())
	cmd.AddCommand(playOutcomeCmd())
	cmd.AddCommand(playChooseCmd())
	cmd.AddCommand(playStepCmd("retry-fork", "Return to the most recent fork", (*machine.Machine).RetryFromFork))
	cmd.AddCommand(playStepCmd("retry-checkpoint", "Return to the most recent checkpoint", (*machine.Machine).RetryFromCheckpoint))
	cmd.AddCommand(playStepCmd("start-over", "Restart from the beginning of the campaign", (*machine.Machine).StartOver))
	cmd.AddCommand(playLeaveCmd())
	return cmd
}

func playStartCmd() *cobra.Command {
	var f playFlags
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new run and write the save",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := definition.FromFile(f.campaign)
			if err != nil {
				return err
			}
			m := machine.New(c)
			return withSaves(cmd.Context(), func(ctx context.Context, saves save.Router) error {
				state := m.Snapshot(time.Now())
				if err := saves.Save(ctx, state, f.save); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(state)
				}
				fmt.Printf("Started %s, saved to %s\n", c.Title(), f.save)
				printEncounter(m.Current())
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

// withMachine resumes the save, runs fn and, when persist is set, writes the
// resulting state back.
func withMachine(ctx context.Context, f playFlags, persist bool, fn func(*machine.Machine) error) error {
	c, _, err := definition.FromFile(f.campaign)
	if err != nil {
		return err
	}
	return withSaves(ctx, func(ctx context.Context, saves save.Router) error {
		state, err := saves.Load(ctx, f.save)
		if err != nil {
			return err
		}
		m, err := machine.Resume(c, state)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		if !persist {
			return nil
		}
		return saves.Save(ctx, m.Snapshot(time.Now()), f.save)
	})
}

func playStatusCmd() *cobra.Command {
	var f playFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current encounter and progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), f, false, func(m *machine.Machine) error {
				state := m.State()
				if viper.GetBool("json") {
					return printJSON(state)
				}
				fmt.Printf("XP: %d  Completed: %d  Achievements: %v\n", state.XPEarned, len(state.CompletedEncounters), state.Achievements)
				if state.LastCheckpoint != nil {
					fmt.Printf("Checkpoint: %s\n", *state.LastCheckpoint)
				}
				printEncounter(m.Current())
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func playOptionsCmd() *cobra.Command {
	var f playFlags
	cmd := &cobra.Command{
		Use:   "options",
		Short: "List the recovery options a failure would offer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), f, false, func(m *machine.Machine) error {
				return printJSONOrTable(m.RecoveryOptions())
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func playOutcomeCmd() *cobra.Command {
	var f playFlags
	cmd := &cobra.Command{
		Use:       "outcome success|failure",
		Short:     "Report the result of the current encounter",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"success", "failure"},
		RunE: func(cmd *cobra.Command, args []string) error {
			success, err := parseOutcome(args[0])
			if err != nil {
				return err
			}
			return withMachine(cmd.Context(), f, true, func(m *machine.Machine) error {
				t, err := m.RecordOutcome(success)
				if err != nil {
					return err
				}
				return printTransition(t, m.State(), m.Current())
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func playChooseCmd() *cobra.Command {
	var f playFlags
	cmd := &cobra.Command{
		Use:   "choose <choice-id>",
		Short: "Resolve the current fork",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), f, true, func(m *machine.Machine) error {
				t, err := m.MakeChoice(args[0])
				if err != nil {
					return err
				}
				return printTransition(t, m.State(), m.Current())
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func playStepCmd(use, short string, step func(*machine.Machine) (domain.Transition, error)) *cobra.Command {
	var f playFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), f, true, func(m *machine.Machine) error {
				t, err := step(m)
				if err != nil {
					return err
				}
				return printTransition(t, m.State(), m.Current())
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func playLeaveCmd() *cobra.Command {
	var f playFlags
	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Save progress and stop playing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), f, true, func(m *machine.Machine) error {
				t := m.Leave()
				if err := printTransition(t, m.State(), m.Current()); err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Printf("Progress saved to %s\n", f.save)
				}
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func parseOutcome(s string) (bool, error) {
	switch s {
	case "success", "pass", "won":
		return true, nil
	case "failure", "fail", "lost":
		return false, nil
	default:
		return false, domain.MalformedInput("outcome must be success or failure, got %q", s)
	}
}
