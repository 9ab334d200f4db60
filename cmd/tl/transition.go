package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/trellis/internal/models"
	"github.com/zulandar/trellis/internal/rule"
	"github.com/zulandar/trellis/internal/transition"
)

func newTransitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition",
		Short: "Status transition commands",
	}

	cmd.AddCommand(newTransitionDefineCmd())
	cmd.AddCommand(newTransitionListCmd())
	return cmd
}

func newTransitionDefineCmd() *cobra.Command {
	var (
		configPath  string
		typeID      uint
		from        uint
		to          uint
		blocked     bool
		require     []string
		rulesJSON   string
		actionsJSON string
	)

	cmd := &cobra.Command{
		Use:   "define",
		Short: "Declare a status transition edge",
		Long:  "Declares a transition edge for a type. Undeclared edges are permitted by default; declare an edge to block it or attach validations and actions. Rules and actions are given as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			opts := transition.DefineOpts{
				TypeID:       typeID,
				FromStatusID: from,
				ToStatusID:   to,
				IsAllowed:    !blocked,
				Validation:   transition.ValidationConfig{RequiredFields: require},
			}
			if rulesJSON != "" {
				var rules []rule.Rule
				if err := json.Unmarshal([]byte(rulesJSON), &rules); err != nil {
					return fmt.Errorf("invalid --rules: %w", err)
				}
				opts.Validation.Rules = rules
			}
			if actionsJSON != "" {
				var actions transition.ActionConfig
				if err := json.Unmarshal([]byte(actionsJSON), &actions); err != nil {
					return fmt.Errorf("invalid --actions: %w", err)
				}
				opts.Actions = actions
			}

			tr, err := transition.Define(gormDB, opts)
			if err != nil {
				return err
			}
			state := "allowed"
			if !tr.IsAllowed {
				state = "blocked"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Declared transition %d: type %d, %d -> %d (%s)\n",
				tr.ID, tr.TypeID, tr.FromStatusID, tr.ToStatusID, state)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().UintVar(&typeID, "type", 0, "work item type id (required)")
	cmd.Flags().UintVar(&from, "from", 0, "source status id (required)")
	cmd.Flags().UintVar(&to, "to", 0, "target status id (required)")
	cmd.Flags().BoolVar(&blocked, "blocked", false, "reject this transition outright")
	cmd.Flags().StringSliceVar(&require, "require", nil, "fields that must be non-empty before transitioning")
	cmd.Flags().StringVar(&rulesJSON, "rules", "", "predicate rules as a JSON array")
	cmd.Flags().StringVar(&actionsJSON, "actions", "", "post-transition actions as a JSON object")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newTransitionListCmd() *cobra.Command {
	var (
		configPath string
		typeID     uint
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List declared transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			q := gormDB.Model(&models.StatusTransition{}).Order("type_id ASC, from_status_id ASC, to_status_id ASC")
			if typeID != 0 {
				q = q.Where("type_id = ?", typeID)
			}
			var trans []models.StatusTransition
			if err := q.Find(&trans).Error; err != nil {
				return fmt.Errorf("list transitions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(trans) == 0 {
				fmt.Fprintln(out, "No transitions declared.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tFROM\tTO\tALLOWED")
			for _, tr := range trans {
				fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\n",
					tr.ID, tr.TypeID, tr.FromStatusID, tr.ToStatusID, yesNo(tr.IsAllowed))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().UintVar(&typeID, "type", 0, "filter by type id")
	return cmd
}
