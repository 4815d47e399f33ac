// Package cli implements the objdb command-line interface: a small
// demonstration shell over the manager package's Setup/create/fetch/
// save/revert/purge/clear operations, built with cobra.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	dbPath  string
	verbose bool
)

// rootCmd is the base command for objdb.
var rootCmd = &cobra.Command{
	Use:   "objdb",
	Short: "Embedded, versioned object-graph store over SQLite",
	Long: `objdb is a small command-line shell over an embedded object-graph
persistence engine: entities and relations compiled from a model, full
revision history with undo/redo by save id, and an in-process identity
map keeping one live handle per object.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "objdb.sqlite", "path to the database file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(clearCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create or migrate the on-disk schema for the demo model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSetup(dbPath, verbose)
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the current save id and version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunInfo(dbPath, verbose)
	},
}

var createCmd = &cobra.Command{
	Use:   "create <entity> [field=value ...]",
	Short: "Create a new object and save it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunCreate(dbPath, verbose, args[0], args[1:])
	},
}

var setCmd = &cobra.Command{
	Use:   "set <entity> <obj_id> <field=value>",
	Short: "Set one attribute on an existing object",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSet(dbPath, verbose, args[0], args[1], args[2])
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <entity> <obj_id>",
	Short: "Mark an object removed and save",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunRemove(dbPath, verbose, args[0], args[1])
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls <entity>",
	Short: "List the current effective rows for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		includeRemoved, _ := cmd.Flags().GetBool("removed")
		return RunList(dbPath, verbose, args[0], includeRemoved)
	},
}

var linkCmd = &cobra.Command{
	Use:   "link <entity> <obj_id> <relation> <target_obj_id>",
	Short: "Append a relation target",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunLink(dbPath, verbose, args[0], args[1], args[2], args[3])
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <entity> <obj_id> <relation> <target_obj_id>",
	Short: "Remove a relation target",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunUnlink(dbPath, verbose, args[0], args[1], args[2], args[3])
	},
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Persist every created and changed object as a new revision",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSave(dbPath, verbose)
	},
}

var revertCmd = &cobra.Command{
	Use:   "revert <save_id>",
	Short: "Move the effective state to an earlier or later save id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunRevert(dbPath, verbose, args[0])
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Collapse revision history to a single row per object and vacuum",
	Long: `Purge is IRREVERSIBLE: every revision except the current effective
row is discarded, and save ids reset to 1. Undo/redo across the purge
point becomes impossible.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunPurge(dbPath, verbose)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every row from every table and reset save ids to 0",
	Long:  `Clear is IRREVERSIBLE: the database is emptied entirely.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunClear(dbPath, verbose)
	},
}

func init() {
	lsCmd.Flags().Bool("removed", false, "include removed rows")
}
