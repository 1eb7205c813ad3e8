package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shayan-deriv/multi-touch-attribution/internal/monitoring"
	"github.com/shayan-deriv/multi-touch-attribution/internal/store"
)

var journeysCmd = &cobra.Command{
	Use:   "journeys",
	Short: "Inspect recorded visitor journeys",
	Long:  "Commands for listing devices, viewing full journeys, and summarizing the ingested stream.",
}

// -- journeys list --

var journeysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("journeys"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		identities, err := st.ListIdentities(ctx, store.IdentityFilter{
			UserID: user,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "journeys list")
		}

		if len(identities) == 0 {
			fmt.Fprintln(os.Stderr, "No devices found.")
			return nil
		}

		formatIdentityList(os.Stdout, identities)
		return nil
	},
}

// -- journeys show --

var journeysShowCmd = &cobra.Command{
	Use:   "show <device-id>",
	Short: "Show one device's full journey",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("journeys"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		identity, err := st.GetIdentity(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "journeys show")
		}
		if identity == nil {
			return eris.Errorf("unknown device %s", args[0])
		}

		events, err := st.ListEvents(ctx, store.EventFilter{DeviceID: args[0]})
		if err != nil {
			return eris.Wrap(err, "journeys show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Identity store.Identity `json:"identity"`
			Events   []store.Event  `json:"events"`
		}{*identity, events})
	},
}

// -- journeys stats --

var journeysStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate journey statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("journeys"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		since, _ := cmd.Flags().GetDuration("since")
		hours := int(since.Hours())
		if hours < 1 {
			hours = 1
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "journeys stats")
		}

		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func init() {
	journeysListCmd.Flags().String("user", "", "filter by linked user id")
	journeysListCmd.Flags().Int("limit", 50, "max number of devices to display")

	journeysStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	journeysCmd.AddCommand(journeysListCmd)
	journeysCmd.AddCommand(journeysShowCmd)
	journeysCmd.AddCommand(journeysStatsCmd)
	rootCmd.AddCommand(journeysCmd)
}

// formatIdentityList writes a tabular list of devices to out.
func formatIdentityList(out io.Writer, identities []store.Identity) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DEVICE\tUSER\tPRIOR_DEVICE\tEVENTS\tFIRST_SEEN\tLAST_SEEN")
	_, _ = fmt.Fprintln(w, "------\t----\t------------\t------\t----------\t---------")

	for _, id := range identities {
		user := id.UserID
		if user == "" {
			user = "-"
		}
		prior := id.PriorDeviceID
		if prior == "" {
			prior = "-"
		} else {
			prior = truncateID(prior)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(id.DeviceID),
			user,
			prior,
			id.EventCount,
			id.FirstSeen.Format("2006-01-02 15:04"),
			id.LastSeen.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatSnapshot writes aggregate stats to out.
func formatSnapshot(out io.Writer, snap *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Events:\t%d\n", snap.EventsTotal)
	_, _ = fmt.Fprintf(w, "  Authenticated:\t%d (%.1f%%)\n", snap.EventsAuthenticated, snap.AuthenticatedRate*100)
	_, _ = fmt.Fprintf(w, "  Direct:\t%d (%.1f%%)\n", snap.EventsDirect, snap.DirectRate*100)
	_, _ = fmt.Fprintf(w, "Devices:\t%d\n", snap.UniqueDevices)

	if len(snap.TopSources) > 0 {
		_, _ = fmt.Fprintln(w, "Top sources:")
		for _, src := range snap.TopSources {
			label := src.Source
			if label == "" {
				label = "(direct)"
			}
			if src.Medium != "" {
				label += "/" + src.Medium
			}
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", label, src.Events)
		}
	}
	_ = w.Flush()
}
