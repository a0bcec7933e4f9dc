package cli

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Migrate applies the SQL migrations in DB_MIGRATION_FOLDER_PATH.

Set DB_MIGRATION_VERSION to migrate to a specific version, and
DB_MIGRATION_FORCE to clear a dirty version first.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	db, err := a.openDB(ctx, true)
	if err != nil {
		return err
	}

	driver, err := database.PostgresDriver(db)
	if err != nil {
		return err
	}
	return database.NewMigrationService(a.logger, a.cfg.Migration()).Migrate(a.cfg.DatabaseName, driver)
}
