package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/trellis/internal/models"
	"github.com/zulandar/trellis/internal/relationship"
)

func newRelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rel",
		Short: "Type relationship commands",
	}

	cmd.AddCommand(newRelDefineCmd())
	cmd.AddCommand(newRelListCmd())
	return cmd
}

func newRelDefineCmd() *cobra.Command {
	var (
		configPath      string
		parentType      uint
		childType       uint
		name            string
		required        bool
		minCount        int
		maxCount        int
		autoCreate      bool
		subjectTemplate string
		fieldTemplates  []string
		inherit         []string
		displayOrder    int
	)

	cmd := &cobra.Command{
		Use:   "define",
		Short: "Declare a parent/child type relationship",
		Long:  "Declares which child type a parent type may contain, with optional count constraints and template-driven auto-creation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			opts := relationship.DefineOpts{
				ParentTypeID: parentType,
				ChildTypeID:  childType,
				Name:         name,
				IsRequired:   required,
				MinCount:     minCount,
				AutoCreate:   autoCreate,
				DisplayOrder: displayOrder,
			}
			if maxCount > 0 {
				opts.MaxCount = &maxCount
			}
			if autoCreate {
				templates, err := parseFieldFlags(fieldTemplates)
				if err != nil {
					return err
				}
				opts.AutoCreateConfig = relationship.AutoCreateConfig{
					SubjectTemplate: subjectTemplate,
					FieldTemplates:  templates,
					InheritFields:   inherit,
				}
			}

			rel, err := relationship.Define(gormDB, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Declared relationship %d: type %d may contain type %d\n",
				rel.ID, rel.ParentTypeID, rel.ChildTypeID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().UintVar(&parentType, "parent-type", 0, "parent type id (required)")
	cmd.Flags().UintVar(&childType, "child-type", 0, "child type id (required)")
	cmd.Flags().StringVar(&name, "name", "", "relationship name (required)")
	cmd.Flags().BoolVar(&required, "required", false, "parent requires at least one child of this type")
	cmd.Flags().IntVar(&minCount, "min", 0, "minimum child count")
	cmd.Flags().IntVar(&maxCount, "max", 0, "maximum child count (0 = unlimited)")
	cmd.Flags().BoolVar(&autoCreate, "auto-create", false, "create the child automatically with the parent")
	cmd.Flags().StringVar(&subjectTemplate, "subject-template", "", "auto-create subject template, e.g. \"Record for {parent.subject}\"")
	cmd.Flags().StringArrayVar(&fieldTemplates, "field-template", nil, "auto-create field template as name=template (repeatable)")
	cmd.Flags().StringSliceVar(&inherit, "inherit", nil, "standard fields copied from the parent")
	cmd.Flags().IntVar(&displayOrder, "order", 0, "display order among the parent type's relationships")
	cmd.MarkFlagRequired("parent-type")
	cmd.MarkFlagRequired("child-type")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newRelListCmd() *cobra.Command {
	var (
		configPath string
		parentType uint
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List declared type relationships",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			q := gormDB.Model(&models.TypeRelationship{}).Order("parent_type_id ASC, display_order ASC")
			if parentType != 0 {
				q = q.Where("parent_type_id = ?", parentType)
			}
			var rels []models.TypeRelationship
			if err := q.Find(&rels).Error; err != nil {
				return fmt.Errorf("list relationships: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(rels) == 0 {
				fmt.Fprintln(out, "No relationships declared.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPARENT\tCHILD\tMIN\tMAX\tAUTO")
			for _, r := range rels {
				max := "-"
				if r.MaxCount != nil {
					max = fmt.Sprintf("%d", *r.MaxCount)
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%s\n",
					r.ID, r.Name, r.ParentTypeID, r.ChildTypeID, r.MinCount, max, yesNo(r.AutoCreate))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().UintVar(&parentType, "parent-type", 0, "filter by parent type id")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
