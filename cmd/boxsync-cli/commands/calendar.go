package commands

import (
	"log/slog"
	"os"

	"boxsync-backend/lib/configutil"
	"boxsync-backend/lib/serviceutil"
	"boxsync-backend/services/checkin"
	"boxsync-backend/services/checkin/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	calendarDb       *string
	calendarCoach    *string
	calendarHeadless *bool
)

func init() {
	calendarDb = calendarCmd.Flags().String("db", "checkin.db", "The database to write the snapshot to.")
	calendarCoach = calendarCmd.Flags().String("coach", "", "Filter the schedule to one coach.")
	calendarHeadless = calendarCmd.Flags().Bool("headless", true, "Run the browser headless.")
	rootCmd.AddCommand(calendarCmd)
}

var calendarCmd = &cobra.Command{
	Use:   "calendar [--coach <name>]",
	Short: "Snapshots the weekly schedule grid with per-event details.",
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

		st, db, err := store.Open(*calendarDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer db.Close()

		scraper, err := checkin.NewScraper(ctx, checkin.ScraperConfig{
			BaseURL:       cfg.BaseURL,
			RoleLabel:     cfg.RoleLabel,
			Username:      os.Getenv("BOXSYNC_USERNAME"),
			Password:      os.Getenv("BOXSYNC_PASSWORD"),
			Headless:      *calendarHeadless,
			ScreenshotDir: cfg.ScreenshotDir,
		}, st)
		if err != nil {
			serviceutil.Fatal("failed to start browser", err)
		}
		defer scraper.Close()

		if err := scraper.EnsureAuthenticated(ctx, true); err != nil {
			serviceutil.Fatal("failed to authenticate", err)
		}

		snapshot, err := scraper.ScrapeCalendar(ctx, *calendarCoach)
		if err != nil {
			serviceutil.Fatal("calendar scrape failed", err)
		}
		if err := st.SaveSnapshot(ctx, store.KindCalendar, snapshot); err != nil {
			serviceutil.Fatal("failed to save snapshot", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Start", "End", "Class", "Teachers"})
		for _, event := range snapshot.Events {
			class, teachers := "", ""
			if event.Details != nil {
				class = event.Details.ClassName
				teachers = event.Details.Teachers
			}
			t.AppendRow(table.Row{event.StartTime, event.EndTime, class, teachers})
		}
		t.Render()
		slog.Info("calendar snapshot saved", "events", snapshot.TotalEvents)
	},
}
