package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/outerlook/helmsman/internal/git"
	"github.com/outerlook/helmsman/internal/repo"
	"github.com/outerlook/helmsman/internal/state"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Register repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <project-id> <url> <path>",
	Short: "Register a local repository with a project",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid project id: %w", err)
		}

		db, err := state.Open(filepath.Join(dataDir, "helmsman.db"))
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}

		svc := repo.NewService(db, git.NewService())
		registered, err := svc.Register(projectID, args[1], args[2])
		if err != nil {
			return err
		}

		color.Green("Registered repo %s (%s)", registered.Name, registered.ID)
		return nil
	},
}

var repoNormalizeCmd = &cobra.Command{
	Use:   "normalize <url>",
	Short: "Print the canonical form of a GitHub URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		normalized, err := repo.NormalizeGitHubURL(args[0])
		if err != nil {
			return err
		}
		fmt.Println(normalized)
		return nil
	},
}

func init() {
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoNormalizeCmd)
}
