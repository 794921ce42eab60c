package cmd

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/rollcall/rollcall/internal/database"
	"github.com/rollcall/rollcall/internal/database/postgres"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage operator accounts",
}

var usersAddCmd = &cobra.Command{
	Use:   "add [username]",
	Short: "Create an operator account for the HTTP API",
	Long: `Creates an account that can request API tokens. The password is read
from the --password flag or prompted on the terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: runUsersAdd,
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersAddCmd)

	usersAddCmd.Flags().String("password", "", "Password (prompted when empty)")
	usersAddCmd.Flags().String("email", "", "Contact email")
}

func runUsersAdd(cmd *cobra.Command, args []string) error {
	pool, _, err := connectPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	password := mustGetString(cmd, "password")
	if password == "" {
		fmt.Print("Password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &database.User{
		Username:     args[0],
		Email:        mustGetString(cmd, "email"),
		PasswordHash: string(hash),
		Active:       true,
	}
	repo := postgres.NewUserRepository(pool)
	if err := repo.Create(context.Background(), user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Created operator account %s (id %d)\n", user.Username, user.ID)
	return nil
}
