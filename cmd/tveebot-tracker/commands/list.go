package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tveebot/tracker/pkg/episode"
	"github.com/tveebot/tracker/pkg/errors"
	"github.com/tveebot/tracker/pkg/tracker"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked TV shows, or their episodes with --episodes",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().Bool("episodes", false, "list episodes and their state")
	listCmd.Flags().String("show", "", "only list the episodes of this show ID")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	episodes, _ := cmd.Flags().GetBool("episodes")
	showID, _ := cmd.Flags().GetString("show")
	out := cmd.OutOrStdout()

	return withAdmin(cmd.Context(), func(tr *tracker.Tracker) error {
		if !episodes && showID == "" {
			shows, err := tr.TVShows(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "list failed")
			}
			if len(shows) == 0 {
				fmt.Fprintln(out, "No TV shows tracked")
				return nil
			}

			rows := make([][]string, 0, len(shows))
			for _, show := range shows {
				rows = append(rows, []string{show.ID, show.Name, string(show.Quality)})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "NAME", "QUALITY"}, rows, nil))
			return nil
		}

		list := tr.Episodes
		if showID != "" {
			list = func(ctx context.Context) ([]episode.Episode, error) { return tr.EpisodesFor(ctx, showID) }
		}
		eps, err := list(cmd.Context())
		if err != nil {
			return errors.Wrap(err, "list failed")
		}
		if len(eps) == 0 {
			fmt.Fprintln(out, "No episodes found")
			return nil
		}

		rows := make([][]string, 0, len(eps))
		for _, ep := range eps {
			rows = append(rows, []string{
				ep.TVShow.Name,
				strconv.Itoa(ep.Season),
				strconv.Itoa(ep.Number),
				ep.Title,
				ep.State.String(),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"SHOW", "SEASON", "EPISODE", "TITLE", "STATE"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft},
		))
		return nil
	})
}
