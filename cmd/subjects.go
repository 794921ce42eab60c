package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rollcall/rollcall/internal/database"
	"github.com/rollcall/rollcall/internal/database/postgres"
	"github.com/rollcall/rollcall/internal/embedder"
	"github.com/rollcall/rollcall/internal/match"
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "List and manage enrolled subjects",
	Long:  `List all subjects. Use subcommands to add, enroll, and remove subjects.`,
	RunE:  runSubjectsList,
}

var subjectsAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register a new subject",
	Long: `Register a subject by name. Without --external-id a UUID is generated.

Example:
  rollcall subjects add "Jan Novák" --external-id S-2024-0131`,
	Args: cobra.ExactArgs(1),
	RunE: runSubjectsAdd,
}

var subjectsEnrollCmd = &cobra.Command{
	Use:   "enroll [external-id] [image-path]",
	Short: "Enroll a subject's face from an image",
	Long: `Extracts a face embedding from the image and stores it as the
subject's gallery entry. The image must contain exactly one face.`,
	Args: cobra.ExactArgs(2),
	RunE: runSubjectsEnroll,
}

var subjectsRemoveCmd = &cobra.Command{
	Use:   "remove [external-id...]",
	Short: "Remove subjects and their attendance records",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSubjectsRemove,
}

func init() {
	rootCmd.AddCommand(subjectsCmd)
	subjectsCmd.AddCommand(subjectsAddCmd)
	subjectsCmd.AddCommand(subjectsEnrollCmd)
	subjectsCmd.AddCommand(subjectsRemoveCmd)

	// List flags
	subjectsCmd.Flags().String("query", "", "Filter by name (diacritics-insensitive)")

	// Add flags
	subjectsAddCmd.Flags().String("external-id", "", "External identifier (student number); generated when empty")

	// Remove flags
	subjectsRemoveCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

func runSubjectsList(cmd *cobra.Command, args []string) error {
	pool, _, err := connectPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := postgres.NewSubjectRepository(pool)
	subjects, err := repo.List(context.Background(), mustGetString(cmd, "query"))
	if err != nil {
		return fmt.Errorf("failed to list subjects: %w", err)
	}

	if len(subjects) == 0 {
		fmt.Println("No subjects found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEXTERNAL\tNAME\tACTIVE\tENROLLED")
	fmt.Fprintln(w, "--\t--------\t----\t------\t--------")

	for _, s := range subjects {
		active := ""
		if s.Active {
			active = "*"
		}
		enrolled := ""
		if s.Enrolled() {
			enrolled = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.ID, s.ExternalID, s.Name, active, enrolled)
	}

	w.Flush()

	fmt.Printf("\nTotal: %d subjects\n", len(subjects))
	return nil
}

func runSubjectsAdd(cmd *cobra.Command, args []string) error {
	pool, _, err := connectPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	externalID := mustGetString(cmd, "external-id")
	if externalID == "" {
		externalID = uuid.New().String()
	}

	subject := &database.Subject{
		ExternalID: externalID,
		Name:       args[0],
		Active:     true,
	}
	repo := postgres.NewSubjectRepository(pool)
	if err := repo.Create(context.Background(), subject); err != nil {
		return fmt.Errorf("failed to create subject: %w", err)
	}

	fmt.Printf("Created subject %d (%s): %s\n", subject.ID, subject.ExternalID, subject.Name)
	fmt.Println("Enroll a face with: rollcall subjects enroll " + subject.ExternalID + " <image>")
	return nil
}

func runSubjectsEnroll(cmd *cobra.Command, args []string) error {
	pool, cfg, err := connectPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx := context.Background()
	repo := postgres.NewSubjectRepository(pool)

	subject, err := repo.GetByExternalID(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch subject: %w", err)
	}
	if subject == nil {
		return fmt.Errorf("subject %s not found", args[0])
	}

	image, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	client := embedder.New(cfg.Embedder.URL, cfg.Embedder.Dim)
	vector, err := client.Extract(ctx, image)
	if err != nil {
		if ee, ok := embedder.AsExtractionError(err); ok {
			return fmt.Errorf("image rejected: %s", ee.Error())
		}
		return fmt.Errorf("embedding service failed: %w", err)
	}

	// Warn when the new face sits closer to an existing subject than the
	// acceptance threshold; that is almost always a double enrollment.
	gallery, err := repo.Gallery(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch gallery: %w", err)
	}
	entries := make([]match.Entry, 0, len(gallery))
	for _, g := range gallery {
		if g.SubjectID == subject.ID {
			continue
		}
		entries = append(entries, match.Entry{Ref: g.SubjectID, Vector: g.Embedding})
	}
	if best, _ := match.Nearest(vector, entries); best != nil && best.Distance < cfg.Matching.Threshold {
		fmt.Printf("WARNING: face is within threshold of subject %d (distance %.3f)\n", best.Ref, best.Distance)
	}

	if err := repo.SetEmbedding(ctx, subject.ID, vector); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	fmt.Printf("Enrolled %s (%s) with a %d-dimensional embedding\n", subject.Name, subject.ExternalID, len(vector))
	return nil
}

func runSubjectsRemove(cmd *cobra.Command, args []string) error {
	pool, _, err := connectPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx := context.Background()
	repo := postgres.NewSubjectRepository(pool)

	// Resolve external IDs and show what will be removed.
	var targets []*database.Subject
	fmt.Println("Subjects to remove:")
	for _, externalID := range args {
		subject, err := repo.GetByExternalID(ctx, externalID)
		if err != nil {
			return fmt.Errorf("failed to fetch subject %s: %w", externalID, err)
		}
		if subject == nil {
			fmt.Printf("  - WARNING: Unknown subject %s (skipping)\n", externalID)
			continue
		}
		fmt.Printf("  - %s (%s)\n", subject.Name, subject.ExternalID)
		targets = append(targets, subject)
	}
	if len(targets) == 0 {
		fmt.Println("Nothing to remove.")
		return nil
	}

	if !mustGetBool(cmd, "yes") {
		fmt.Print("Attendance records are removed with the subject. Continue? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	for _, subject := range targets {
		if err := repo.Delete(ctx, subject.ID); err != nil {
			return fmt.Errorf("failed to remove subject %s: %w", subject.ExternalID, err)
		}
		fmt.Printf("Removed %s (%s)\n", subject.Name, subject.ExternalID)
	}
	return nil
}
