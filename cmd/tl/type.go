package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/trellis/internal/models"
)

func newTypeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "type",
		Short: "Work item type commands",
	}

	cmd.AddCommand(newTypeCreateCmd())
	cmd.AddCommand(newTypeListCmd())
	cmd.AddCommand(newTypeFieldAddCmd())
	cmd.AddCommand(newTypeStatusAddCmd())
	return cmd
}

func newTypeCreateCmd() *cobra.Command {
	var (
		configPath string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work item type",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			var count int64
			if err := gormDB.Model(&models.WorkItemType{}).
				Where("name = ? AND organization_id = ?", name, cfg.Organization).
				Count(&count).Error; err != nil {
				return fmt.Errorf("check type %q: %w", name, err)
			}
			if count > 0 {
				return fmt.Errorf("type %q already exists", name)
			}

			wt := models.WorkItemType{Name: name, OrganizationID: &cfg.Organization}
			if err := gormDB.Create(&wt).Error; err != nil {
				return fmt.Errorf("create type %q: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created type %d (%s)\n", wt.ID, wt.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().StringVar(&name, "name", "", "type name (required)")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newTypeListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work item types",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			var types []models.WorkItemType
			if err := gormDB.Preload("Fields").Preload("Statuses").
				Order("id ASC").Find(&types).Error; err != nil {
				return fmt.Errorf("list types: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(types) == 0 {
				fmt.Fprintln(out, "No types defined.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tORG\tFIELDS\tSTATUSES")
			for _, t := range types {
				org := "-"
				if t.OrganizationID != nil {
					org = *t.OrganizationID
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n",
					t.ID, t.Name, org, len(t.Fields), len(t.Statuses))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	return cmd
}

func newTypeFieldAddCmd() *cobra.Command {
	var (
		configPath   string
		typeID       uint
		name         string
		fieldType    string
		required     bool
		options      []string
		displayOrder int
	)

	cmd := &cobra.Command{
		Use:   "field-add",
		Short: "Add a custom field definition to a type",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch fieldType {
			case models.FieldText, models.FieldNumber, models.FieldDate,
				models.FieldEnum, models.FieldBoolean, models.FieldUserRef:
			default:
				return fmt.Errorf("unknown field type %q", fieldType)
			}
			if fieldType == models.FieldEnum && len(options) == 0 {
				return fmt.Errorf("enum fields require --options")
			}

			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := gormDB.First(&models.WorkItemType{}, typeID).Error; err != nil {
				return fmt.Errorf("look up type %d: %w", typeID, err)
			}

			var optJSON string
			if len(options) > 0 {
				data, err := json.Marshal(options)
				if err != nil {
					return fmt.Errorf("marshal options: %w", err)
				}
				optJSON = string(data)
			}

			fd := models.FieldDefinition{
				TypeID:       typeID,
				Name:         name,
				FieldType:    fieldType,
				Options:      optJSON,
				Required:     required,
				DisplayOrder: displayOrder,
			}
			if err := gormDB.Create(&fd).Error; err != nil {
				return fmt.Errorf("add field %q to type %d: %w", name, typeID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added field %s (%s) to type %d\n", fd.Name, fd.FieldType, typeID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().UintVar(&typeID, "type", 0, "type id (required)")
	cmd.Flags().StringVar(&name, "name", "", "field name (required)")
	cmd.Flags().StringVar(&fieldType, "field-type", models.FieldText, "field type: text, number, date, enum, boolean, user")
	cmd.Flags().BoolVar(&required, "required", false, "field must be set before final transitions require it")
	cmd.Flags().StringSliceVar(&options, "options", nil, "enum choices")
	cmd.Flags().IntVar(&displayOrder, "order", 0, "display order")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newTypeStatusAddCmd() *cobra.Command {
	var (
		configPath   string
		typeID       uint
		name         string
		initial      bool
		final        bool
		displayOrder int
	)

	cmd := &cobra.Command{
		Use:   "status-add",
		Short: "Add a status to a type's status set",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := gormDB.First(&models.WorkItemType{}, typeID).Error; err != nil {
				return fmt.Errorf("look up type %d: %w", typeID, err)
			}

			st := models.Status{
				TypeID:       typeID,
				Name:         name,
				IsInitial:    initial,
				IsFinal:      final,
				DisplayOrder: displayOrder,
			}
			if err := gormDB.Create(&st).Error; err != nil {
				return fmt.Errorf("add status %q to type %d: %w", name, typeID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added status %d (%s) to type %d\n", st.ID, st.Name, typeID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().UintVar(&typeID, "type", 0, "type id (required)")
	cmd.Flags().StringVar(&name, "name", "", "status name (required)")
	cmd.Flags().BoolVar(&initial, "initial", false, "items may start in this status")
	cmd.Flags().BoolVar(&final, "final", false, "entering this status completes the item")
	cmd.Flags().IntVar(&displayOrder, "order", 0, "display order")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("name")
	return cmd
}
