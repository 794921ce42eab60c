package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rollcall/rollcall/internal/attendance"
	"github.com/rollcall/rollcall/internal/database"
	"github.com/rollcall/rollcall/internal/database/postgres"
	"github.com/rollcall/rollcall/internal/embedder"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Attendance reports and manual marking",
	Long:  `Show attendance for a day. Use subcommands to mark from an image.`,
	RunE:  runAttendanceReport,
}

var attendanceMarkCmd = &cobra.Command{
	Use:   "mark [image-path]",
	Short: "Recognize a face image and mark attendance",
	Long: `Runs the same recognize-and-mark flow the API serves: the image is
reduced to a probe vector, matched against the gallery, and attendance is
recorded when the best match is close enough and not yet marked today.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttendanceMark,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceMarkCmd)

	attendanceCmd.Flags().String("day", "", "Calendar day to report (YYYY-MM-DD, default today)")
}

func runAttendanceReport(cmd *cobra.Command, args []string) error {
	pool, cfg, err := connectPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	loc, err := attendanceLocation(cfg)
	if err != nil {
		return err
	}

	day := database.DayOf(time.Now(), loc)
	if raw := mustGetString(cmd, "day"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			return fmt.Errorf("invalid --day %q, want YYYY-MM-DD", raw)
		}
		day = database.DayOf(parsed, loc)
	}

	ctx := context.Background()
	ledger := postgres.NewAttendanceRepository(pool, loc)
	subjects := postgres.NewSubjectRepository(pool)

	records, err := ledger.ListByDay(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to list attendance: %w", err)
	}

	fmt.Printf("Attendance for %s\n\n", day.Format("2006-01-02"))
	if len(records) == 0 {
		fmt.Println("No records.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tNAME\tSTATUS\tRECORDED")
	fmt.Fprintln(w, "-------\t----\t------\t--------")

	for _, record := range records {
		name := ""
		if subject, err := subjects.GetByID(ctx, record.SubjectID); err == nil && subject != nil {
			name = subject.Name
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			record.SubjectID, name, record.Status,
			record.RecordedAt.In(loc).Format("15:04:05"))
	}

	w.Flush()

	fmt.Printf("\nTotal: %d records\n", len(records))
	return nil
}

func runAttendanceMark(cmd *cobra.Command, args []string) error {
	pool, cfg, err := connectPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	loc, err := attendanceLocation(cfg)
	if err != nil {
		return err
	}

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	subjects := postgres.NewSubjectRepository(pool)
	ledger := postgres.NewAttendanceRepository(pool, loc)
	extractor := embedder.New(cfg.Embedder.URL, cfg.Embedder.Dim)

	engine := attendance.NewEngine(subjects, ledger, extractor, attendance.Config{
		Threshold: cfg.Matching.Threshold,
		Location:  loc,
		Status:    cfg.Matching.Status,
		Dim:       cfg.Embedder.Dim,
	})

	outcome, err := engine.RecognizeAndMark(context.Background(), image)
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}

	switch outcome.Kind {
	case attendance.OutcomeMarked:
		fmt.Printf("Marked %s (%s) as %s (distance %.3f)\n",
			outcome.Subject.Name, outcome.Subject.ExternalID, outcome.Record.Status, outcome.Distance)
	case attendance.OutcomeAlreadyMarked:
		fmt.Printf("%s (%s) is already marked today (distance %.3f)\n",
			outcome.Subject.Name, outcome.Subject.ExternalID, outcome.Distance)
	case attendance.OutcomeNoMatch:
		fmt.Println("No subject within the acceptance threshold.")
	case attendance.OutcomeNoGallery:
		fmt.Println("No enrolled subjects; enroll faces first.")
	case attendance.OutcomeExtractionFailed:
		fmt.Printf("Image rejected: %s\n", outcome.Reason)
	}
	return nil
}
