package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shayan-deriv/multi-touch-attribution/internal/replay"
	"github.com/shayan-deriv/multi-touch-attribution/pkg/collector"
	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
)

var (
	simulateVisitors    int
	simulateConcurrency int
	simulateCollector   string
	simulatePolicy      string
	simulateJSON        bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <script.yaml>",
	Short: "Replay a scripted visitor session",
	Long:  "Runs scripted visitors against in-memory recorders, each with its own device identity, optionally delivering events to a live collector.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("simulate"); err != nil {
			return err
		}

		script, err := replay.LoadScript(args[0])
		if err != nil {
			return err
		}

		deliverer := buildDeliverer()

		visitors := simulateVisitors
		if visitors < 1 {
			visitors = 1
		}

		zap.L().Info("simulating visitors",
			zap.String("script", script.Name),
			zap.Int("visitors", visitors),
		)

		journeys := make([]mta.Journey, visitors)
		var g errgroup.Group
		g.SetLimit(simulateConcurrency)
		for i := 0; i < visitors; i++ {
			g.Go(func() error {
				j, err := replay.Run(script, replay.Options{
					Base:      cfg.Tracker.SDK(),
					Policy:    simulatePolicy,
					Deliverer: deliverer,
				})
				if err != nil {
					return err
				}
				journeys[i] = j
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "simulate")
		}

		if simulateJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(journeys)
		}

		formatJourneySummaries(os.Stdout, journeys)
		return nil
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateVisitors, "visitors", 1, "number of concurrent visitors to replay")
	simulateCmd.Flags().IntVar(&simulateConcurrency, "concurrency", 8, "max visitors running at once")
	simulateCmd.Flags().StringVar(&simulateCollector, "collector", "", "collector base URL to deliver events to (default from config)")
	simulateCmd.Flags().StringVar(&simulatePolicy, "policy", "", "override the script's policy (sticky, delta)")
	simulateCmd.Flags().BoolVar(&simulateJSON, "json", false, "print full journeys as JSON")
	rootCmd.AddCommand(simulateCmd)
}

// buildDeliverer wires the collector client when a base URL is configured,
// on the flag or in config. No URL means the visitors run without delivery.
func buildDeliverer() mta.Deliverer {
	baseURL := simulateCollector
	if baseURL == "" {
		baseURL = cfg.Collector.BaseURL
	}
	if baseURL == "" {
		return nil
	}

	opts := []collector.Option{collector.WithUserAgent(cfg.Collector.UserAgent)}
	if cfg.Collector.EventsPerSec > 0 {
		opts = append(opts, collector.WithThrottle(cfg.Collector.EventsPerSec, cfg.Collector.Burst))
	}
	return collector.NewClient(baseURL, opts...)
}

// formatJourneySummaries writes one tabular row per visitor.
func formatJourneySummaries(out io.Writer, journeys []mta.Journey) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VISITOR\tDEVICE\tUSER\tEVENTS\tFIRST_TOUCH\tLAST_TOUCH")
	_, _ = fmt.Fprintln(w, "-------\t------\t----\t------\t-----------\t----------")

	for i, j := range journeys {
		first, last := "-", "-"
		if len(j.Events) > 0 {
			first = describeTouch(j.Events[0].Attribution)
			last = describeTouch(j.Events[len(j.Events)-1].Attribution)
		}
		user := j.UserID
		if user == "" {
			user = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
			i+1,
			truncateID(j.DeviceID),
			user,
			len(j.Events),
			first,
			last,
		)
	}
	_ = w.Flush()
}

// describeTouch renders an attribution as source/medium, or "direct".
func describeTouch(rec mta.AttributionRecord) string {
	if rec.Source == "" {
		return "direct"
	}
	if rec.Medium == "" {
		return rec.Source
	}
	return rec.Source + "/" + rec.Medium
}

// truncateID returns the first 8 characters of a device ID for compact
// display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
