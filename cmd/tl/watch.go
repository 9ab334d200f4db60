package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/trellis/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watcher management commands",
	}

	cmd.AddCommand(newWatchAddCmd())
	cmd.AddCommand(newWatchRemoveCmd())
	cmd.AddCommand(newWatchListCmd())
	return cmd
}

func newWatchAddCmd() *cobra.Command {
	var (
		configPath string
		userFlag   string
	)

	cmd := &cobra.Command{
		Use:   "add <item-id>",
		Short: "Watch a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			user := resolveUser(userFlag)
			if err := watch.Add(gormDB, args[0], user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now watching %s\n", user, args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().StringVar(&userFlag, "user", "", "watching user id (default $TRELLIS_USER)")
	return cmd
}

func newWatchRemoveCmd() *cobra.Command {
	var (
		configPath string
		userFlag   string
	)

	cmd := &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Stop watching a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			user := resolveUser(userFlag)
			if err := watch.Remove(gormDB, args[0], user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stopped watching %s\n", user, args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().StringVar(&userFlag, "user", "", "watching user id (default $TRELLIS_USER)")
	return cmd
}

func newWatchListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list <item-id>",
		Short: "List an item's watchers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			watchers, err := watch.List(gormDB, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(watchers) == 0 {
				fmt.Fprintln(out, "No watchers.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tTYPE\tSTATUS\tASSIGNMENT\tCOMMENT\tDUE")
			for _, wr := range watchers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					wr.UserID, wr.WatchType,
					yesNo(wr.NotifyStatus), yesNo(wr.NotifyAssignment),
					yesNo(wr.NotifyComment), yesNo(wr.NotifyDue))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	return cmd
}
