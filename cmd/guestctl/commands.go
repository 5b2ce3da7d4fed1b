package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"guestlist/internal/admission"
	"guestlist/internal/model"
	"guestlist/internal/repo"
)

const commandTimeout = 30 * time.Second

type cli struct {
	root *cobra.Command
	be   *backend
}

func newCLI(open openFunc, log *zerolog.Logger) *cli {
	c := &cli{}
	var configPath string

	c.root = &cobra.Command{
		Use:          "guestctl",
		Short:        "Administer the wedding guest list",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			c.be, err = open(configPath, log)
			return err
		},
	}
	c.root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	get := func() *backend { return c.be }
	c.root.AddCommand(
		newWhitelistCmd(get),
		newLookupCmd(get),
		newStatsCmd(get),
		newPromoteCmd(get),
		newUnconfirmCmd(get),
		newListCmd(get),
		newMigrateCmd(get),
	)
	return c
}

// Execute runs the command line, then flushes notifications and releases
// the store whatever the outcome.
func (c *cli) Execute(ctx context.Context, args []string) error {
	c.root.SetArgs(args)
	err := c.root.ExecuteContext(ctx)
	if c.be != nil {
		if cerr := c.be.close(); cerr != nil && err == nil {
			err = cerr
		}
		c.be = nil
	}
	return err
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, commandTimeout)
}

func newWhitelistCmd(be func() *backend) *cobra.Command {
	wl := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage phone numbers allowed to RSVP",
	}

	var name, notes string
	add := &cobra.Command{
		Use:   "add <phone>",
		Short: "Allow a phone number to RSVP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			e, err := be().engine.AllowPhone(ctx, args[0], name, notes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s whitelisted\n", e.Phone)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "guest name for reference")
	add.Flags().StringVar(&notes, "notes", "", "free-form notes")

	remove := &cobra.Command{
		Use:   "remove <phone>",
		Short: "Revoke a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if err := be().engine.RevokePhone(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🗑️  %s removed\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List whitelisted phone numbers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			entries, err := be().engine.ListWhitelist(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PHONE\tNAME\tNOTES")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Phone, e.Name, e.Notes)
			}
			return w.Flush()
		},
	}

	wl.AddCommand(add, remove, list)
	return wl
}

func newLookupCmd(be func() *backend) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <phone>",
		Short: "Show a guest's RSVP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			res, err := be().engine.Lookup(ctx, args[0])
			if errors.Is(err, admission.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has not answered\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newStatsCmd(be func() *backend) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show seat occupancy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			st, err := be().engine.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "capacity:   %d\nconfirmed:  %d\nwaitlisted: %d\ndeclined:   %d\navailable:  %d\n",
				st.Capacity, st.Confirmed, st.Waitlisted, st.Declined, st.Available)
			return nil
		},
	}
}

func newPromoteCmd(be func() *backend) *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Move the earliest waitlisted guest onto a free seat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			g, err := be().engine.PromoteNext(ctx)
			if err != nil {
				return err
			}
			if g == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "nobody promoted")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🎉 promoted %s (%s)\n", g.Name, g.Phone)
			return nil
		},
	}
}

func newUnconfirmCmd(be func() *backend) *cobra.Command {
	return &cobra.Command{
		Use:   "unconfirm <phone>",
		Short: "Release a confirmed guest's seat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			res, err := be().engine.Unconfirm(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newListCmd(be func() *backend) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List RSVPs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter model.Status
			if status != "" {
				st, err := model.ParseStatus(status)
				if err != nil {
					return err
				}
				filter = st
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			rows, err := be().engine.List(ctx, filter)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PHONE\tNAME\tSTATUS\tPLEDGE\tANSWERED")
			for _, gr := range rows {
				r := gr.RSVP
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", gr.Guest.Phone, gr.Guest.Name,
					model.StatusOf(&r), r.PledgeAmount, r.CreatedAt.Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "confirmed, waitlisted or declined")
	return cmd
}

func newMigrateCmd(be func() *backend) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back postgres migrations",
	}
	run := func(down bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			pg, ok := be().store.(*repo.Postgres)
			if !ok {
				return errors.New("migrations only apply to the postgres driver")
			}
			if down {
				return pg.MigrateDown(be().dirs.MigrationsDir)
			}
			return pg.MigrateUp(be().dirs.MigrationsDir)
		}
	}
	migrate.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply migrations", Args: cobra.NoArgs, RunE: run(false)},
		&cobra.Command{Use: "down", Short: "Roll back every migration", Args: cobra.NoArgs, RunE: run(true)},
	)
	return migrate
}

func printResult(w io.Writer, res *admission.Result) {
	fmt.Fprintf(w, "%s (%s): %s\n", res.Guest.Name, res.Guest.Phone, res.Status)
	if r := res.RSVP; r != nil {
		if r.DietaryNeeds != "" {
			fmt.Fprintf(w, "  dietary: %s\n", r.DietaryNeeds)
		}
		if r.PledgeAmount > 0 {
			fmt.Fprintf(w, "  pledge:  KES %d\n", r.PledgeAmount)
		}
		if r.HotelChoice != "" {
			fmt.Fprintf(w, "  hotel:   %s\n", r.HotelChoice)
		}
	}
	if res.Promoted != nil {
		fmt.Fprintf(w, "  promoted from waitlist: %s (%s)\n", res.Promoted.Name, res.Promoted.Phone)
	}
}
