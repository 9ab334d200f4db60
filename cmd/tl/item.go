package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/trellis/internal/hierarchy"
	"github.com/zulandar/trellis/internal/interp"
	"github.com/zulandar/trellis/internal/models"
	"github.com/zulandar/trellis/internal/workitem"
	"gorm.io/gorm"
)

func newItemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Work item management commands",
	}

	cmd.AddCommand(newItemCreateCmd())
	cmd.AddCommand(newItemListCmd())
	cmd.AddCommand(newItemShowCmd())
	cmd.AddCommand(newItemChildrenCmd())
	cmd.AddCommand(newItemAncestorsCmd())
	cmd.AddCommand(newItemMoveCmd())
	cmd.AddCommand(newItemStatusCmd())
	cmd.AddCommand(newItemDeleteCmd())
	return cmd
}

func newItemCreateCmd() *cobra.Command {
	var (
		configPath string
		userFlag   string
		typeID     uint
		subject    string
		parentID   string
		priority   int
		assignee   string
		due        string
		fields     []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new work item",
		Long:  "Creates a work item with an auto-generated ID, as a hierarchy root or under a parent. Auto-create relationships on the type fire immediately.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			svc, err := buildService(cfg, gormDB)
			if err != nil {
				return err
			}

			opts := workitem.CreateOpts{
				TypeID:         typeID,
				OrganizationID: cfg.Organization,
				Subject:        subject,
				Priority:       priority,
				Assignee:       assignee,
				Creator:        resolveUser(userFlag),
			}
			if parentID != "" {
				opts.ParentID = &parentID
			}
			if due != "" {
				d, err := time.Parse(interp.DateFormat, due)
				if err != nil {
					return fmt.Errorf("invalid --due %q, want YYYY-MM-DD", due)
				}
				opts.DueDate = &d
			}
			if opts.Fields, err = parseFieldFlags(fields); err != nil {
				return err
			}

			res, err := svc.Create(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created item %s\n", res.Item.ID)
			if res.Item.ParentID != nil {
				fmt.Fprintf(out, "Parent: %s (depth %d)\n", *res.Item.ParentID, res.Item.Depth)
			}
			for _, a := range res.AutoCreated {
				if a.Err != nil {
					fmt.Fprintf(out, "Auto-create %q failed: %v\n", a.Relationship.Name, a.Err)
					continue
				}
				fmt.Fprintf(out, "Auto-created %s (%s)\n", a.Child.ID, a.Relationship.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().StringVar(&userFlag, "user", "", "acting user id (default $TRELLIS_USER)")
	cmd.Flags().UintVar(&typeID, "type", 0, "work item type id (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "item subject (required)")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent item id")
	cmd.Flags().IntVar(&priority, "priority", 2, "priority (1=highest)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "custom field value as name=value (repeatable)")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("subject")
	return cmd
}

func newItemListCmd() *cobra.Command {
	var (
		configPath string
		typeID     uint
		statusID   uint
		assignee   string
		parentID   string
		overdue    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		Long:  "Lists work items with optional filters. Output is formatted as a table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			svc, err := buildService(cfg, gormDB)
			if err != nil {
				return err
			}

			items, err := svc.List(workitem.ListOpts{
				OrganizationID: cfg.Organization,
				TypeID:         typeID,
				StatusID:       statusID,
				Assignee:       assignee,
				ParentID:       parentID,
				Overdue:        overdue,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No items found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSUBJECT\tSTATUS\tPRI\tASSIGNEE\tDEPTH")
			for _, it := range items {
				a := it.Assignee
				if a == "" {
					a = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\n",
					it.ID, truncate(it.Subject, 40), statusName(gormDB, it.StatusID), it.Priority, a, it.Depth)
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().UintVar(&typeID, "type", 0, "filter by type id")
	cmd.Flags().UintVar(&statusID, "status", 0, "filter by status id")
	cmd.Flags().StringVar(&assignee, "assignee", "", "filter by assignee")
	cmd.Flags().StringVar(&parentID, "parent", "", "filter by parent item id")
	cmd.Flags().BoolVar(&overdue, "overdue", false, "only overdue open items")
	return cmd
}

func newItemShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show work item details",
		Long:  "Displays full details of a work item including hierarchy position, custom fields, and children.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			return runItemShow(cmd, gormDB, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	return cmd
}

func runItemShow(cmd *cobra.Command, gormDB *gorm.DB, id string) error {
	item, err := hierarchy.Get(gormDB, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:          %s\n", item.ID)
	fmt.Fprintf(out, "Subject:     %s\n", item.Subject)
	fmt.Fprintf(out, "Status:      %s\n", statusName(gormDB, item.StatusID))
	fmt.Fprintf(out, "Priority:    %d\n", item.Priority)
	if item.Assignee != "" {
		fmt.Fprintf(out, "Assignee:    %s\n", item.Assignee)
	}
	fmt.Fprintf(out, "Creator:     %s\n", item.Creator)
	if item.ParentID != nil {
		fmt.Fprintf(out, "Parent:      %s\n", *item.ParentID)
	}
	fmt.Fprintf(out, "Depth:       %d\n", item.Depth)
	fmt.Fprintf(out, "Path:        %s\n", item.Path)
	if item.DueDate != nil {
		fmt.Fprintf(out, "Due:         %s\n", item.DueDate.Format(interp.DateFormat))
	}
	fmt.Fprintf(out, "Created:     %s\n", item.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Updated:     %s\n", item.UpdatedAt.Format("2006-01-02 15:04:05"))
	if item.CompletedAt != nil {
		fmt.Fprintf(out, "Completed:   %s\n", item.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	if len(item.Fields) > 0 {
		fmt.Fprintln(out, "\nFields:")
		for _, f := range item.Fields {
			fmt.Fprintf(out, "  %s: %s\n", f.Name, f.Value)
		}
	}

	children, err := hierarchy.GetChildren(gormDB, id)
	if err == nil && len(children) > 0 {
		fmt.Fprintln(out, "\nChildren:")
		for _, c := range children {
			fmt.Fprintf(out, "  %s  %s\n", c.ID, truncate(c.Subject, 50))
		}
	}
	return nil
}

func newItemChildrenCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "children <id>",
		Short: "List an item's direct children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			children, err := hierarchy.GetChildren(gormDB, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(children) == 0 {
				fmt.Fprintln(out, "No children.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSUBJECT\tSTATUS\tPRI\tASSIGNEE")
			for _, c := range children {
				a := c.Assignee
				if a == "" {
					a = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					c.ID, truncate(c.Subject, 40), statusName(gormDB, c.StatusID), c.Priority, a)
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	return cmd
}

func newItemAncestorsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ancestors <id>",
		Short: "Show an item's ancestor chain, root first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			ancestors, err := hierarchy.GetAncestors(gormDB, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(ancestors) == 0 {
				fmt.Fprintln(out, "Item is a root.")
				return nil
			}
			for _, a := range ancestors {
				fmt.Fprintf(out, "%*s%s  %s\n", a.Depth*2, "", a.ID, truncate(a.Subject, 50))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	return cmd
}

func newItemMoveCmd() *cobra.Command {
	var (
		configPath string
		userFlag   string
		newParent  string
	)

	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a work item to a new parent",
		Long:  "Atomically re-parents an item and its whole subtree. Moves under a descendant or past the depth limit are rejected.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			svc, err := buildService(cfg, gormDB)
			if err != nil {
				return err
			}
			if err := svc.Move(cmd.Context(), resolveUser(userFlag), args[0], newParent); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved %s under %s\n", args[0], newParent)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().StringVar(&userFlag, "user", "", "acting user id (default $TRELLIS_USER)")
	cmd.Flags().StringVar(&newParent, "to", "", "new parent item id (required)")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newItemStatusCmd() *cobra.Command {
	var (
		configPath string
		userFlag   string
		statusID   uint
	)

	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Change a work item's status",
		Long:  "Validates and applies a status transition, then runs the edge's configured actions.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			svc, err := buildService(cfg, gormDB)
			if err != nil {
				return err
			}

			res, err := svc.UpdateStatus(cmd.Context(), resolveUser(userFlag), args[0], statusID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Item %s is now %s\n", res.Item.ID, statusName(gormDB, res.Item.StatusID))
			for _, a := range res.Actions {
				fmt.Fprintf(out, "  %s: %s (%s)\n", a.ActionType, a.Outcome, a.Detail)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().StringVar(&userFlag, "user", "", "acting user id (default $TRELLIS_USER)")
	cmd.Flags().UintVar(&statusID, "to", 0, "target status id (required)")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newItemDeleteCmd() *cobra.Command {
	var (
		configPath string
		userFlag   string
	)

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a work item",
		Long:  "Marks an item deleted. Items with live children are rejected.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			svc, err := buildService(cfg, gormDB)
			if err != nil {
				return err
			}
			if err := svc.Delete(resolveUser(userFlag), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().StringVar(&userFlag, "user", "", "acting user id (default $TRELLIS_USER)")
	return cmd
}

// statusName resolves a status id for display, falling back to the id.
func statusName(gormDB *gorm.DB, id uint) string {
	if id == 0 {
		return "-"
	}
	var st models.Status
	if err := gormDB.First(&st, id).Error; err != nil {
		return fmt.Sprintf("#%d", id)
	}
	return st.Name
}
