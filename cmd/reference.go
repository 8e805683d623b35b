package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/output"
	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:     "users",
	Short:   "Manage cached users",
	GroupID: "data",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		activeOnly, _ := cmd.Flags().GetBool("active")
		ctx := cmd.Context()

		database, err := openStore()
		if err != nil {
			return report(jsonOut, err)
		}
		defer database.Close()

		users, err := database.ListUsers(ctx)
		if err != nil {
			return report(jsonOut, err)
		}
		if activeOnly {
			users = activeUsers(users)
		}
		if jsonOut {
			return output.JSON(users)
		}
		if len(users) == 0 {
			fmt.Println("No users cached; run 'punch sync'")
			return nil
		}
		depts, err := departmentNames(ctx, database)
		if err != nil {
			return report(false, err)
		}
		for i := range users {
			fmt.Println(output.FormatUser(&users[i], depts[users[i].DepartmentID]))
		}
		return nil
	},
}

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace a user and queue the change",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		dept, _ := cmd.Flags().GetString("department")
		inactive, _ := cmd.Flags().GetBool("inactive")

		database, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		u := &models.User{ID: id, Name: name, Email: email, DepartmentID: dept, Active: !inactive}
		action, err := saveUser(cmd.Context(), database, u)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Saved user %s (%s)", u.ID, action)
		return nil
	},
}

var usersRemoveCmd = &cobra.Command{
	Use:     "remove <id>...",
	Aliases: []string{"rm"},
	Short:   "Remove users and queue the deletion",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeEach(cmd, args, "user", func(ctx context.Context, database *db.DB, id string) (int64, error) {
			return database.DeleteUserWithMutation(ctx, id)
		})
	},
}

var departmentsCmd = &cobra.Command{
	Use:     "departments",
	Aliases: []string{"depts"},
	Short:   "Manage cached departments",
	GroupID: "data",
}

var departmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached departments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		database, err := openStore()
		if err != nil {
			return report(jsonOut, err)
		}
		defer database.Close()

		depts, err := database.ListDepartments(cmd.Context())
		if err != nil {
			return report(jsonOut, err)
		}
		if jsonOut {
			return output.JSON(depts)
		}
		if len(depts) == 0 {
			fmt.Println("No departments cached; run 'punch sync'")
			return nil
		}
		for i := range depts {
			fmt.Println(output.FormatDepartment(&depts[i]))
		}
		return nil
	},
}

var departmentsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or rename a department and queue the change",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		name, _ := cmd.Flags().GetString("name")

		database, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		d := &models.Department{ID: id, Name: name}
		action, err := saveDepartment(cmd.Context(), database, d)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Saved department %s (%s)", d.ID, action)
		return nil
	},
}

var departmentsRemoveCmd = &cobra.Command{
	Use:     "remove <id>...",
	Aliases: []string{"rm"},
	Short:   "Remove departments and queue the deletion",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeEach(cmd, args, "department", func(ctx context.Context, database *db.DB, id string) (int64, error) {
			return database.DeleteDepartmentWithMutation(ctx, id)
		})
	},
}

// saveUser stores u as a create or update depending on whether it is cached.
// A department id must name a cached department.
func saveUser(ctx context.Context, database *db.DB, u *models.User) (models.Action, error) {
	if u.DepartmentID != "" {
		if _, err := database.GetDepartment(ctx, u.DepartmentID); err != nil {
			return "", fmt.Errorf("user %s: %w", u.ID, err)
		}
	}
	action, err := upsertAction(func() error {
		_, err := database.GetUser(ctx, u.ID)
		return err
	})
	if err != nil {
		return "", err
	}
	_, err = database.SaveUserWithMutation(ctx, u, action)
	return action, err
}

func saveDepartment(ctx context.Context, database *db.DB, d *models.Department) (models.Action, error) {
	action, err := upsertAction(func() error {
		_, err := database.GetDepartment(ctx, d.ID)
		return err
	})
	if err != nil {
		return "", err
	}
	_, err = database.SaveDepartmentWithMutation(ctx, d, action)
	return action, err
}

// upsertAction picks update when lookup finds the record, create when it
// reports ErrNotFound.
func upsertAction(lookup func() error) (models.Action, error) {
	err := lookup()
	switch {
	case err == nil:
		return models.ActionUpdate, nil
	case errors.Is(err, db.ErrNotFound):
		return models.ActionCreate, nil
	default:
		return "", err
	}
}

func removeEach(cmd *cobra.Command, ids []string, kind string, remove func(context.Context, *db.DB, string) (int64, error)) error {
	database, err := openStore()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer database.Close()

	for _, id := range ids {
		if _, err := remove(cmd.Context(), database, id); err != nil {
			output.Error("%s: %v", id, err)
			return err
		}
		output.Success("Removed %s %s", kind, id)
	}
	return nil
}

func activeUsers(users []models.User) []models.User {
	out := users[:0]
	for _, u := range users {
		if u.Active {
			out = append(out, u)
		}
	}
	return out
}

// departmentNames maps cached department ids to names
func departmentNames(ctx context.Context, database *db.DB) (map[string]string, error) {
	depts, err := database.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(depts))
	for _, d := range depts {
		names[d.ID] = d.Name
	}
	return names, nil
}

func init() {
	rootCmd.AddCommand(usersCmd, departmentsCmd)
	usersCmd.AddCommand(usersListCmd, usersAddCmd, usersRemoveCmd)
	departmentsCmd.AddCommand(departmentsListCmd, departmentsAddCmd, departmentsRemoveCmd)

	usersListCmd.Flags().Bool("json", false, "Output as JSON")
	usersListCmd.Flags().Bool("active", false, "Only active users")

	usersAddCmd.Flags().String("id", "", "User id")
	usersAddCmd.Flags().String("name", "", "Display name")
	usersAddCmd.Flags().String("email", "", "Email address")
	usersAddCmd.Flags().String("department", "", "Department id")
	usersAddCmd.Flags().Bool("inactive", false, "Store the user as inactive")
	_ = usersAddCmd.MarkFlagRequired("id")
	_ = usersAddCmd.MarkFlagRequired("name")

	departmentsListCmd.Flags().Bool("json", false, "Output as JSON")

	departmentsAddCmd.Flags().String("id", "", "Department id")
	departmentsAddCmd.Flags().String("name", "", "Display name")
	_ = departmentsAddCmd.MarkFlagRequired("id")
	_ = departmentsAddCmd.MarkFlagRequired("name")
}
