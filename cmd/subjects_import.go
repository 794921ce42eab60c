package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rollcall/rollcall/internal/database"
	"github.com/rollcall/rollcall/internal/database/postgres"
	"github.com/rollcall/rollcall/internal/embedder"
)

var subjectsImportCmd = &cobra.Command{
	Use:   "import [csv-path]",
	Short: "Bulk-register and enroll subjects from a CSV file",
	Long: `Imports subjects from a CSV file with columns:

  external_id,name,image_path

An empty external_id gets a generated UUID. An empty image_path registers
the subject without a face; enroll one later. Rows whose image is rejected
(no face, several faces, undecodable) are reported and skipped, the rest
of the import continues.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubjectsImport,
}

func init() {
	subjectsCmd.AddCommand(subjectsImportCmd)

	subjectsImportCmd.Flags().Int("concurrency", 4, "Parallel embedding requests")
	subjectsImportCmd.Flags().Bool("header", true, "Treat the first row as a header")
}

// importRow is one parsed CSV line.
type importRow struct {
	externalID string
	name       string
	imagePath  string
}

func readImportRows(path string, skipHeader bool) ([]importRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 3

	var rows []importRow
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		line++
		if line == 1 && skipHeader {
			continue
		}
		if record[1] == "" {
			return nil, fmt.Errorf("row %d: name is required", line)
		}
		rows = append(rows, importRow{
			externalID: record[0],
			name:       record[1],
			imagePath:  record[2],
		})
	}
	return rows, nil
}

func runSubjectsImport(cmd *cobra.Command, args []string) error {
	pool, cfg, err := connectPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	rows, err := readImportRows(args[0], mustGetBool(cmd, "header"))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("Nothing to import.")
		return nil
	}

	ctx := context.Background()
	repo := postgres.NewSubjectRepository(pool)
	client := embedder.New(cfg.Embedder.URL, cfg.Embedder.Dim)
	concurrency := mustGetInt(cmd, "concurrency")

	// Create all subjects first, sequentially: duplicate external IDs should
	// fail the import before any embedding work starts.
	created := make([]*database.Subject, len(rows))
	for i, row := range rows {
		externalID := row.externalID
		if externalID == "" {
			externalID = uuid.New().String()
		}
		subject := &database.Subject{
			ExternalID: externalID,
			Name:       row.name,
			Active:     true,
		}
		if err := repo.Create(ctx, subject); err != nil {
			return fmt.Errorf("row %d (%s): %w", i+1, row.name, err)
		}
		created[i] = subject
	}
	fmt.Printf("Registered %d subjects\n", len(created))

	bar := progressbar.NewOptions(len(rows),
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("subjects"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var enrolled, skipped, failed int
	var mu sync.Mutex
	var rejections []string

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, row := range rows {
		wg.Add(1)
		go func(subject *database.Subject, imagePath string) {
			defer wg.Done()
			defer bar.Add(1)
			sem <- struct{}{}
			defer func() { <-sem }()

			if imagePath == "" {
				mu.Lock()
				skipped++
				mu.Unlock()
				return
			}

			image, err := os.ReadFile(imagePath)
			if err != nil {
				mu.Lock()
				failed++
				rejections = append(rejections, fmt.Sprintf("%s: %v", subject.ExternalID, err))
				mu.Unlock()
				return
			}

			vector, err := client.Extract(ctx, image)
			if err != nil {
				mu.Lock()
				failed++
				rejections = append(rejections, fmt.Sprintf("%s: %v", subject.ExternalID, err))
				mu.Unlock()
				return
			}

			if err := repo.SetEmbedding(ctx, subject.ID, vector); err != nil {
				mu.Lock()
				failed++
				rejections = append(rejections, fmt.Sprintf("%s: %v", subject.ExternalID, err))
				mu.Unlock()
				return
			}

			mu.Lock()
			enrolled++
			mu.Unlock()
		}(created[i], row.imagePath)
	}

	wg.Wait()
	fmt.Println()

	fmt.Printf("\nCompleted: %d enrolled, %d without image, %d failed\n", enrolled, skipped, failed)
	for _, rejection := range rejections {
		fmt.Printf("  - %s\n", rejection)
	}
	return nil
}
