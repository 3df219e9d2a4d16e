package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tveebot/tracker/pkg/episode"
	"github.com/tveebot/tracker/pkg/errors"
	"github.com/tveebot/tracker/pkg/tracker"
)

var addShowCmd = &cobra.Command{
	Use:   "add-show <id> <name>",
	Short: "Start tracking a TV show by its ShowRSS ID",
	Args:  cobra.ExactArgs(2),
	RunE:  runAddShow,
}

var removeShowCmd = &cobra.Command{
	Use:   "remove-show <id>",
	Short: "Stop tracking a TV show and forget its episodes",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoveShow,
}

var setQualityCmd = &cobra.Command{
	Use:   "set-quality <id> <quality>",
	Short: "Change the video quality wanted for a TV show (SD, HD or FHD)",
	Args:  cobra.ExactArgs(2),
	RunE:  runSetQuality,
}

func init() {
	addShowCmd.Flags().String("quality", "SD", "video quality: SD, HD or FHD")
	rootCmd.AddCommand(addShowCmd, removeShowCmd, setQualityCmd)
}

func runAddShow(cmd *cobra.Command, args []string) error {
	flag, _ := cmd.Flags().GetString("quality")
	quality, err := episode.ParseQuality(flag)
	if err != nil {
		return err
	}
	show := episode.TVShow{ID: args[0], Name: args[1], Quality: quality}

	return withAdmin(cmd.Context(), func(tr *tracker.Tracker) error {
		if err := tr.AddTVShow(cmd.Context(), show); err != nil {
			return errors.Wrap(err, "add show failed")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tracking %s (%s) in %s\n", show.Name, show.ID, show.Quality)
		return nil
	})
}

func runRemoveShow(cmd *cobra.Command, args []string) error {
	return withAdmin(cmd.Context(), func(tr *tracker.Tracker) error {
		if err := tr.RemoveTVShow(cmd.Context(), args[0]); err != nil {
			return errors.Wrap(err, "remove show failed")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped tracking %s\n", args[0])
		return nil
	})
}

func runSetQuality(cmd *cobra.Command, args []string) error {
	quality, err := episode.ParseQuality(args[1])
	if err != nil {
		return err
	}

	return withAdmin(cmd.Context(), func(tr *tracker.Tracker) error {
		if err := tr.SetTVShowQuality(cmd.Context(), args[0], quality); err != nil {
			return errors.Wrap(err, "set quality failed")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s now tracked in %s\n", args[0], quality)
		return nil
	})
}
