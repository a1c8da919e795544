package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zsprackett/claude-usage/internal/config"
	"github.com/zsprackett/claude-usage/internal/usage"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the cached usage without fetching",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently recorded usage readings",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var setOrgCmd = &cobra.Command{
	Use:   "set-org [ORG_ID|auto]",
	Short: "Choose which organization the status line shows",
	Long: `Choose which organization the status line shows. "auto" picks the
organization with the highest session usage. Without an argument the
organizations seen in the last reading are listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSetOrg,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the cached snapshot as JSON")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of readings to show")
	rootCmd.AddCommand(statusCmd, historyCmd, setOrgCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a := setup(cmd)
	defer a.close()

	snap, found, err := usage.NewCache(a.cfg.CachePath()).Read()
	if err != nil {
		a.logger.Warn("cache unreadable", "err", err)
	}
	w := cmd.OutOrStdout()
	if !found {
		fmt.Fprintln(w, "unknown (no usage fetched yet)")
		return nil
	}
	if statusJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	fmt.Fprintln(w, statusLine(snap, false, time.Now()))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a := setup(cmd)
	defer a.close()

	if _, err := os.Stat(a.cfg.HistoryPath()); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "no readings recorded yet")
		return nil
	}
	store, err := openHistory(a.cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(historyLimit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FETCHED\tORG\tSESSION\tWEEKLY\tSOURCE")
	for _, e := range entries {
		org := e.OrgName
		if org == "" {
			org = e.OrgID
		}
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%d%%\t%s\n",
			humanize.Time(e.FetchedAt), org, e.SessionPercent, e.WeeklyPercent, e.Source)
	}
	return tw.Flush()
}

func runSetOrg(cmd *cobra.Command, args []string) error {
	a := setup(cmd)
	defer a.close()
	w := cmd.OutOrStdout()

	if len(args) == 0 {
		snap, found, _ := usage.NewCache(a.cfg.CachePath()).Read()
		if !found || len(snap.Orgs) == 0 {
			fmt.Fprintln(w, "no organizations seen yet; run claude-usage first")
			return nil
		}
		for _, o := range snap.Orgs {
			marker := " "
			if o.OrgID == snap.OrgID {
				marker = "*"
			}
			fmt.Fprintf(w, "%s %s  %s  session %d%%\n", marker, o.OrgID, o.OrgName, o.SessionPercent)
		}
		fmt.Fprintf(w, "current setting: %s\n", a.cfg.DisplayOrg)
		return nil
	}

	if err := config.SetDisplayOrg(configPath, args[0]); err != nil {
		return err
	}
	a.logger.Info("display org changed", "org", args[0])
	fmt.Fprintf(w, "Display organization set to %s\n", args[0])
	return nil
}
