package commands

import (
	"log/slog"
	"os"

	"boxsync-backend/lib/configutil"
	"boxsync-backend/lib/serviceutil"
	"boxsync-backend/services/checkin"
	"boxsync-backend/services/checkin/store"

	"github.com/spf13/cobra"
)

var loginDb *string

func init() {
	loginDb = loginCmd.Flags().String("db", "checkin.db", "The database to save the session to.")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Logs in with a visible browser and saves the session for later headless runs.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://boxmagic.cl"
		}

		configutil.LoadDotenv()
		username := os.Getenv("BOXSYNC_USERNAME")
		password := os.Getenv("BOXSYNC_PASSWORD")

		st, db, err := store.Open(*loginDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer db.Close()

		// headful so captchas and unexpected prompts can be handled
		// by hand while the automation fills the form
		scraper, err := checkin.NewScraper(ctx, checkin.ScraperConfig{
			BaseURL:       cfg.BaseURL,
			RoleLabel:     cfg.RoleLabel,
			Username:      username,
			Password:      password,
			Headless:      false,
			ScreenshotDir: cfg.ScreenshotDir,
		}, st)
		if err != nil {
			serviceutil.Fatal("failed to start browser", err)
		}
		defer scraper.Close()

		if err := scraper.EnsureAuthenticated(ctx, true); err != nil {
			serviceutil.Fatal("failed to authenticate", err)
		}
		slog.Info("session saved", "db", *loginDb)
	},
}
