package commands

import (
	"log/slog"
	"os"
	"time"

	"boxsync-backend/lib/configutil"
	"boxsync-backend/lib/serviceutil"
	"boxsync-backend/lib/timezone"
	"boxsync-backend/services/checkin"
	"boxsync-backend/services/checkin/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type Config struct {
	BaseURL       string `json:"base_url"`
	RoleLabel     string `json:"role_label"`
	ScreenshotDir string `json:"screenshot_dir"`
}

var (
	scrapeDb       *string
	scrapeDays     *int
	scrapeStart    *string
	scrapeHeadless *bool
)

func init() {
	scrapeDb = scrapeCmd.Flags().String("db", "checkin.db", "The database to write results to.")
	scrapeDays = scrapeCmd.Flags().Int("days", 7, "How many days ahead to extract.")
	scrapeStart = scrapeCmd.Flags().String("start", "", "First date to extract, DD-MM-YYYY. Defaults to today.")
	scrapeHeadless = scrapeCmd.Flags().Bool("headless", true, "Run the browser headless.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--db <path/to/output.db>] [--days <n>] [--start <dd-mm-yyyy>]",
	Short: "Extracts class rosters for a span of dates and writes a snapshot to the database.",
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

		start := timezone.Now()
		if *scrapeStart != "" {
			start, err = checkin.ParseDay(*scrapeStart)
			if err != nil {
				serviceutil.Fatal("invalid start date", err)
			}
		}

		st, db, err := store.Open(*scrapeDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer db.Close()

		scraper, err := checkin.NewScraper(ctx, checkin.ScraperConfig{
			BaseURL:       cfg.BaseURL,
			RoleLabel:     cfg.RoleLabel,
			Username:      username,
			Password:      password,
			Headless:      *scrapeHeadless,
			ScreenshotDir: cfg.ScreenshotDir,
		}, st)
		if err != nil {
			serviceutil.Fatal("failed to start browser", err)
		}
		defer scraper.Close()

		if err := scraper.EnsureAuthenticated(ctx, true); err != nil {
			serviceutil.Fatal("failed to authenticate", err)
		}

		t1 := time.Now()
		run, err := scraper.Run(ctx, checkin.ExtractRequest{
			Start: start,
			Days:  *scrapeDays,
		})
		if err != nil {
			serviceutil.Fatal("extraction failed", err)
		}
		t2 := time.Now()

		if err := st.SaveSnapshot(ctx, store.KindCheckin, run); err != nil {
			serviceutil.Fatal("failed to save snapshot", err)
		}

		printSummary(run)
		slog.Info("extraction time", "seconds", t2.Sub(t1).Seconds())
	},
}

func printSummary(run *checkin.ExtractionRun) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Date", "Classes", "Reservations"})
	for _, date := range checkin.SortedDates(run) {
		result := run.Dates[date]
		total := 0
		for _, class := range result.Classes {
			total += class.TotalReservations
		}
		t.AppendRow(table.Row{date, result.TotalClasses, total})
	}
	t.AppendFooter(table.Row{"Total", run.Summary.TotalClasses, run.Summary.TotalReservations})
	t.Render()
}
