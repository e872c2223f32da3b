package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smccarney/pldm/internal/pdrstore"
	"github.com/smccarney/pldm/pkg/pldm"
)

func newHistoryCmd() *cobra.Command {
	var (
		storePath string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the stored fetch cycle history",
	}
	cmd.PersistentFlags().StringVar(&storePath, "store", "", "history database (default from config)")

	open := func() (*pdrstore.Store, error) {
		path := storePath
		if path == "" {
			cfg, err := loadConfig()
			if err != nil {
				return nil, err
			}
			path = cfg.Store.Path
		}
		return pdrstore.New(path)
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent fetch cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			cycles, err := store.ListCycles(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), cycles)
			}
			return printCycles(cmd.OutOrStdout(), cycles)
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of cycles to list")
	addOutputFlag(listCmd, &output)

	showCmd := &cobra.Command{
		Use:   "show <cycle-id>",
		Short: "Show one fetch cycle and the records it received",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			c, err := store.GetCycle(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("cycle %s: %w", args[0], err)
			}
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), c)
			}
			return printCycle(cmd.OutOrStdout(), c)
		},
	}
	addOutputFlag(showCmd, &output)

	var keep int
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			n, err := store.Prune(ctx, keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d cycles\n", n)
			return nil
		},
	}
	pruneCmd.Flags().IntVar(&keep, "keep", 10, "number of cycles to keep")

	cmd.AddCommand(listCmd, showCmd, pruneCmd)
	return cmd
}

func printCycles(w io.Writer, cycles []*pdrstore.Cycle) error {
	if len(cycles) == 0 {
		fmt.Fprintln(w, "No fetch cycles recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tOUTCOME\tCHANGED")
	for _, c := range cycles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			c.ID,
			c.StartedAt.Local().Format(time.DateTime),
			time.Duration(c.DurationMS)*time.Millisecond,
			c.Outcome,
			len(c.Changed))
	}
	return tw.Flush()
}

func printCycle(w io.Writer, c *pdrstore.Cycle) error {
	changed := make([]string, len(c.Changed))
	for i, h := range c.Changed {
		changed[i] = fmt.Sprint(h)
	}
	if err := writeFields(w, [][2]string{
		{"ID", c.ID},
		{"Started", c.StartedAt.Local().Format(time.DateTime)},
		{"Duration", (time.Duration(c.DurationMS) * time.Millisecond).String()},
		{"Outcome", c.Outcome},
		{"Changed", strings.Join(changed, ",")},
	}); err != nil {
		return err
	}
	if len(c.Records) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tHOST HANDLE\tREPO HANDLE\tTYPE\tBYTES")
	for _, r := range c.Records {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%d\n", r.Seq, r.HostHandle, r.RepoHandle, pldm.PDRTypeName(r.Type), len(r.Data))
	}
	return tw.Flush()
}
