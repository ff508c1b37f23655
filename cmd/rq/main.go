// Rq is the operator CLI for the reviewqueue board API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linnemanlabs/reviewqueue/internal/board"
	"github.com/linnemanlabs/reviewqueue/internal/client"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

var rootCmd = &cobra.Command{
	Use:   "rq",
	Short: "Reviewqueue CLI",
	Long: `Rq drives reviewqueue boards from the terminal.
A board is mounted once with a filter query and returns a session id; later
commands take that id. "rq board show" mounts, renders and unmounts in one go.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "reviewqueue server URL")
	rootCmd.PersistentFlags().String("token", "", "API bearer token")
	rootCmd.PersistentFlags().Duration("timeout", 0, "request timeout (0 = 30s)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(statusesCmd())
	rootCmd.AddCommand(marketsCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(filterCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(detailCmd())
	rootCmd.AddCommand(insuranceCmd())
	rootCmd.AddCommand(ownerCmd())
}

func newClient() (*client.Client, error) {
	return client.New(viper.GetString("server"), viper.GetString("token"), viper.GetDuration("timeout"))
}

func withClient(ctx context.Context, fn func(ctx context.Context, c *client.Client) error) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	return fn(ctx, c)
}

func statusesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "statuses",
		Short: "List review statuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				items, err := c.Statuses(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Name", "Slug", "Active"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Slug, s.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func marketsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "markets",
		Short: "List markets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				items, err := c.Markets(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Name", "TZ"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Name, m.TZAbbreviation})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users <term>",
		Short: "Search users by name or email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				items, err := c.SearchUsers(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Name", "Email"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, strings.TrimSpace(u.FirstName + " " + u.LastName), u.Email})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func boardCmd() *cobra.Command {
	b := &cobra.Command{Use: "board", Short: "Mount, render and unmount boards"}
	b.AddCommand(boardMountCmd())
	b.AddCommand(boardRenderCmd())
	b.AddCommand(boardShowCmd())
	b.AddCommand(boardUnmountCmd())
	return b
}

func boardMountCmd() *cobra.Command {
	var query, viewport string
	cmd := &cobra.Command{
		Use:   "mount",
		Short: "Mount a board and print its session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				m, err := c.Mount(ctx, query, board.Viewport(viewport))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				fmt.Fprintln(cmd.OutOrStdout(), m.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "filter query, e.g. marketIds=159&searchTerm=ada")
	cmd.Flags().StringVar(&viewport, "viewport", string(board.ViewportWide), "wide or narrow")
	return cmd
}

func boardRenderCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "render <session>",
		Short: "Render a mounted board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				v, err := c.Board(ctx, args[0], refresh)
				if err != nil {
					return err
				}
				return printBoard(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-read every column")
	return cmd
}

func boardShowCmd() *cobra.Command {
	var query, viewport string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Mount a board, render it once and unmount it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				m, err := c.Mount(ctx, query, board.Viewport(viewport))
				if err != nil {
					return err
				}
				defer func() { _ = c.Unmount(context.WithoutCancel(ctx), m.ID) }()
				v, err := c.Board(ctx, m.ID, false)
				if err != nil {
					return err
				}
				return printBoard(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "filter query, e.g. marketIds=159&searchTerm=ada")
	cmd.Flags().StringVar(&viewport, "viewport", string(board.ViewportWide), "wide or narrow")
	return cmd
}

func boardUnmountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmount <session>",
		Short: "Unmount a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				return c.Unmount(ctx, args[0])
			})
		},
	}
}

func filterCmd() *cobra.Command {
	f := &cobra.Command{Use: "filter", Short: "Change a board's filters"}

	search := &cobra.Command{
		Use:   "search <session> <term>",
		Short: "Commit a search term (empty clears it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				fv, err := c.Search(ctx, args[0], args[1], true)
				if err != nil {
					return err
				}
				return printFilter(cmd.OutOrStdout(), fv)
			})
		},
	}

	markets := &cobra.Command{
		Use:   "markets <session> [marketId...]",
		Short: "Replace the market selection (no ids clears it)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				fv, err := c.SetMarkets(ctx, args[0], args[1:])
				if err != nil {
					return err
				}
				return printFilter(cmd.OutOrStdout(), fv)
			})
		},
	}

	st := &cobra.Command{
		Use:   "status <session> <statusId>",
		Short: "Select the status shown on narrow boards",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				fv, err := c.SetStatus(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printFilter(cmd.OutOrStdout(), fv)
			})
		},
	}

	f.AddCommand(search, markets, st)
	return f
}

func moveCmd() *cobra.Command {
	var secondary bool
	cmd := &cobra.Command{
		Use:   "move <session> <requestId>",
		Short: "Move a request to its next status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			order := triage.OrderPrimary
			if secondary {
				order = triage.OrderSecondary
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				res, err := c.Transition(ctx, args[0], args[1], order)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				out := cmd.OutOrStdout()
				if res.Skipped {
					fmt.Fprintf(out, "skipped: %s\n", res.Reason)
					return nil
				}
				fmt.Fprintf(out, "%s: %s -> %s\n", args[1], res.From.Name, res.To.Name)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&secondary, "secondary", false, "take the secondary move where one exists")
	return cmd
}

func detailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detail <session> <requestId>",
		Short: "Open the sidebar on a request and print its detail",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				if _, err := c.OpenSidebar(ctx, args[0], args[1]); err != nil {
					return err
				}
				d, err := c.Detail(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") || d.Loading {
					return printJSON(d)
				}
				tw := newTable(cmd.OutOrStdout())
				tw.AppendRow(table.Row{"Request", d.RequestID})
				if d.Status != nil {
					tw.AppendRow(table.Row{"Status", d.Status.Name})
				}
				if d.Patient != nil {
					tw.AppendRow(table.Row{"Patient", d.Patient.FullName()})
				}
				if d.CareRequest != nil {
					tw.AppendRow(table.Row{"Chief complaint", d.CareRequest.ChiefComplaint})
				}
				if d.Market != nil {
					tw.AppendRow(table.Row{"Market", fmt.Sprintf("%s (%s)", d.Market.Name, d.Market.TZAbbreviation)})
				}
				if d.Owner != nil {
					tw.AppendRow(table.Row{"Owner", strings.TrimSpace(d.Owner.FirstName + " " + d.Owner.LastName)})
				}
				if d.NotesCount != nil {
					tw.AppendRow(table.Row{"Notes", *d.NotesCount})
				}
				if d.Insurance != nil {
					tw.AppendRow(table.Row{"Insurance", d.Insurance.Mode})
					tw.AppendRow(table.Row{"CMS number", d.Insurance.CMSNumber})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func insuranceCmd() *cobra.Command {
	ins := &cobra.Command{Use: "insurance", Short: "Edit insurance verification"}

	var off bool
	verify := &cobra.Command{
		Use:   "verify <session> <requestId>",
		Short: "Mark insurance verified (or unverified with --off)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				v, err := c.SetVerified(ctx, args[0], args[1], !off)
				if err != nil {
					return err
				}
				return printJSON(v)
			})
		},
	}
	verify.Flags().BoolVar(&off, "off", false, "clear verification")

	cms := &cobra.Command{
		Use:   "cms <session> <requestId> <number>",
		Short: "Set the CMS number of a verified request",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, id := args[0], args[1]
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				if _, err := c.StartCMSEdit(ctx, sid, id); err != nil {
					return err
				}
				if _, err := c.SetCMSDraft(ctx, sid, id, args[2]); err != nil {
					return err
				}
				v, err := c.SaveCMS(ctx, sid, id)
				if err != nil {
					_, _ = c.CancelCMSEdit(ctx, sid, id)
					return err
				}
				return printJSON(v)
			})
		},
	}

	ins.AddCommand(verify, cms)
	return ins
}

func ownerCmd() *cobra.Command {
	own := &cobra.Command{Use: "owner", Short: "Assign or clear request owners"}

	assign := &cobra.Command{
		Use:   "assign <session> <requestId> <userId>",
		Short: "Assign a request to a user",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				sr, err := c.AssignOwner(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return printJSON(sr)
			})
		},
	}

	unassign := &cobra.Command{
		Use:   "unassign <session> <requestId>",
		Short: "Clear a request's owner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				return c.UnassignOwner(ctx, args[0], args[1])
			})
		},
	}

	own.AddCommand(assign, unassign)
	return own
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	return tw
}

func printBoard(w io.Writer, v board.View) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Fprintf(w, "session %s  query %q\n", v.ID, v.Query)
	if v.Loading {
		fmt.Fprintln(w, "statuses unavailable, board is loading")
		return nil
	}
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Column", "ID", "Patient", "Complaint", "Market", "Notes", "Actions"})
	for _, col := range v.Columns {
		if col.Loading {
			tw.AppendRow(table.Row{col.Status.Name, "(loading)", "", "", "", "", ""})
			continue
		}
		if len(col.Cards) == 0 {
			tw.AppendRow(table.Row{col.Status.Name, "", "", "", "", "", ""})
			continue
		}
		for _, card := range col.Cards {
			actions := card.PrimaryLabel
			if card.SecondaryLabel != "" {
				actions += " | " + card.SecondaryLabel
			}
			tw.AppendRow(table.Row{col.Status.Name, card.ID, card.PatientName, card.ChiefComplaint, card.MarketID, card.NotesCount, actions})
		}
	}
	tw.Render()
	return nil
}

func printFilter(w io.Writer, fv board.FilterView) error {
	if viper.GetBool("json") {
		return printJSON(fv)
	}
	fmt.Fprintln(w, fv.Query)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
