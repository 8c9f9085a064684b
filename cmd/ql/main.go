package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"questline/internal/app"
	"questline/internal/definition"
	"questline/internal/domain"
	"questline/internal/logger"
	"questline/internal/migrate"
	"questline/internal/repo"
	"questline/internal/save"
)

var rootCmd = &cobra.Command{
	Use:   "ql",
	Short: "Questline CLI",
	Long: `Questline plays branching campaigns: chapters of encounters, forks with a
correct choice, checkpoints, and a game over screen with recovery options.
- Campaign: a YAML file of chapters and encounters; 'ql campaign validate' checks it.
- Play: a single-player run kept in a save file (or redis:<key>); see 'ql play'.
- Sessions: hosted runs stored in the workspace database; see 'ql session' and 'ql serve'.
- Recovery: after a game over, retry the last fork, retry the last checkpoint, start over, or leave.
- Event log: every transition of a hosted session, view with 'ql log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Init(viper.GetString("log-level"), viper.GetString("log-format"))
	},
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("QUESTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("campaign-dir", "campaigns", "directory of campaign YAML files for hosted sessions")
	flags.Bool("json", false, "output JSON")
	flags.String("player-id", "local-player", "player identifier for hosted sessions")
	flags.String("redis-addr", "", "redis address for redis:<key> saves")
	flags.String("redis-password", "", "redis password")
	flags.String("log-level", "warn", "log level")
	flags.String("log-format", "text", "log format (text|json)")
	for _, name := range []string{"workspace", "campaign-dir", "json", "player-id", "redis-addr", "redis-password", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// exitCode gives scripts a stable status per error family.
func exitCode(err error) int {
	switch domain.CodeOf(err) {
	case domain.CodeMalformedInput, domain.CodeDanglingReference, domain.CodeDuplicateIdentifier, domain.CodeUnreachableStart:
		return 2
	case domain.CodeInvalidOperation, domain.CodeUnknownChoice, domain.CodeNoForkToRetry, domain.CodeNoCheckpoint:
		return 3
	case domain.CodeIO, domain.CodeDeserialization:
		return 4
	default:
		return 1
	}
}

func campaignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Inspect campaign definitions",
	}
	cmd.AddCommand(campaignValidateCmd())
	cmd.AddCommand(campaignShowCmd())
	cmd.AddCommand(campaignListCmd())
	return cmd
}

func campaignValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Load campaign files and report errors and warnings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type result struct {
				File     string               `json:"file"`
				Campaign string               `json:"campaign_id,omitempty"`
				Warnings []definition.Warning `json:"warnings"`
			}
			var results []result
			for _, path := range args {
				c, warnings, err := definition.FromFile(path)
				if err != nil {
					return err
				}
				if warnings == nil {
					warnings = []definition.Warning{}
				}
				results = append(results, result{File: path, Campaign: c.ID(), Warnings: warnings})
			}
			if viper.GetBool("json") {
				return printJSON(results)
			}
			for _, r := range results {
				fmt.Printf("%s: campaign %s ok (%d warnings)\n", r.File, r.Campaign, len(r.Warnings))
				for _, w := range r.Warnings {
					fmt.Printf("  warning: %s: %s\n", w.Kind, w.Message)
				}
			}
			return nil
		},
	}
}

func campaignShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file>",
		Short: "Print the chapters and encounters of a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := definition.FromFile(args[0])
			if err != nil {
				return err
			}
			return printCampaign(c)
		},
	}
}

func campaignListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List campaigns in the campaign directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			campaigns, _, err := definition.LoadDir(viper.GetString("campaign-dir"))
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(campaigns))
			for id := range campaigns {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			if viper.GetBool("json") {
				return printJSON(ids)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Title", "Chapters", "Encounters"})
			for _, id := range ids {
				c := campaigns[id]
				tw.AppendRow(table.Row{c.ID(), c.Title(), len(c.Chapters()), c.EncounterCount()})
			}
			tw.Render()
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show hosted session counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				counts, err := a.Engine.Repo.CountSessionsByStatus(ctx)
				if err != nil {
					return err
				}
				schema, err := migrate.Version(a.DB)
				if err != nil {
					return err
				}
				out := map[string]any{
					"campaigns":      len(a.Engine.Campaigns),
					"schema_version": schema,
					"session_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Workspace schema: v%d\n", schema)
				fmt.Printf("Campaigns loaded: %d\n", len(a.Engine.Campaigns))
				fmt.Println("Sessions:")
				for _, st := range []domain.SessionStatus{domain.SessionActive, domain.SessionEnded, domain.SessionCompleted} {
					fmt.Printf("  %s: %d\n", st, counts[st])
				}
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every session start and transition of hosted play, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				evts, err := a.Engine.Repo.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Session", "Actor", "Payload"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.CampaignID, "campaign-id", "", "campaign filter")
	cmd.Flags().StringVar(&f.EntityID, "session", "", "session id filter")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), viper.GetString("campaign-dir"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withSaves(ctx context.Context, fn func(context.Context, save.Router) error) error {
	router, release, err := app.SaveStores(ctx, viper.GetString("redis-addr"), viper.GetString("redis-password"))
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, router)
}

func printCampaign(c *domain.Campaign) error {
	if viper.GetBool("json") {
		type encounter struct {
			ID         string `json:"id"`
			Kind       string `json:"kind"`
			Title      string `json:"title,omitempty"`
			XPReward   int    `json:"xp_reward"`
			Checkpoint bool   `json:"is_checkpoint"`
		}
		type chapter struct {
			ID         string      `json:"id"`
			Title      string      `json:"title"`
			Encounters []encounter `json:"encounters"`
		}
		out := struct {
			ID       string    `json:"id"`
			Title    string    `json:"title"`
			Chapters []chapter `json:"chapters"`
		}{ID: c.ID(), Title: c.Title()}
		for _, ch := range c.Chapters() {
			cj := chapter{ID: ch.ID, Title: ch.Title}
			for _, id := range ch.Encounters {
				enc, _ := c.Encounter(id)
				cj.Encounters = append(cj.Encounters, encounter{ID: enc.ID, Kind: string(enc.Kind()), Title: enc.Title, XPReward: enc.XPReward, Checkpoint: enc.Checkpoint})
			}
			out.Chapters = append(out.Chapters, cj)
		}
		return printJSON(out)
	}
	fmt.Printf("Campaign: %s (%s)\n", c.Title(), c.ID())
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Chapter", "Encounter", "Kind", "XP", "Checkpoint", "Leads to"})
	for _, ch := range c.Chapters() {
		for _, id := range ch.Encounters {
			enc, _ := c.Encounter(id)
			tw.AppendRow(table.Row{ch.ID, enc.ID, enc.Kind(), enc.XPReward, enc.Checkpoint, leadsTo(enc)})
		}
	}
	tw.Render()
	return nil
}

func leadsTo(enc domain.Encounter) string {
	switch p := enc.Payload.(type) {
	case domain.Linear:
		return p.Next
	case domain.Fork:
		parts := make([]string, 0, len(p.Choices))
		for _, ch := range p.Choices {
			parts = append(parts, ch.ID+"->"+ch.Target)
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTransition(t domain.Transition, state domain.PlayerState, current domain.Encounter) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"transition": t, "state": state})
	}
	switch t.Kind {
	case domain.TransitionGameOver:
		fmt.Printf("Game over at %s.\n", t.From)
		fmt.Println("Options:")
		for _, o := range t.Options {
			fmt.Printf("  - %s\n", o)
		}
		return nil
	case domain.TransitionCampaignComplete:
		fmt.Printf("Campaign complete! Total XP: %d\n", state.XPEarned)
	case domain.TransitionChapterComplete:
		fmt.Printf("Chapter complete. Next chapter: %s\n", t.ChapterID)
	case domain.TransitionLeft:
		fmt.Println("Left the session.")
		return nil
	default:
		fmt.Printf("%s: %s -> %s\n", t.Kind, t.From, t.To)
	}
	if t.XPAwarded > 0 {
		fmt.Printf("+%d XP (total %d)\n", t.XPAwarded, state.XPEarned)
	}
	if t.CheckpointSet {
		fmt.Println("Checkpoint reached.")
	}
	for _, a := range t.AchievementsUnlocked {
		fmt.Printf("Achievement unlocked: %s\n", a)
	}
	if t.Kind != domain.TransitionCampaignComplete {
		printEncounter(current)
	}
	return nil
}

func printEncounter(enc domain.Encounter) {
	title := enc.Title
	if title == "" {
		title = enc.ID
	}
	fmt.Printf("\n[%s] %s (%s, tier %d)\n", enc.ChapterID, title, enc.Kind(), enc.Tier)
	if enc.Narrative != "" {
		fmt.Println(enc.Narrative)
	}
	if enc.Objective != "" {
		fmt.Println("Objective:", enc.Objective)
	}
	if f, ok := enc.Payload.(domain.Fork); ok {
		for _, ch := range f.Choices {
			label := ch.Label
			if label == "" {
				label = ch.ID
			}
			fmt.Printf("  %s) %s\n", ch.ID, label)
		}
	}
}
