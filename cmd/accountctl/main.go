// Command accountctl creates gateway user accounts directly in the
// database, bypassing the HTTP registration endpoint. Intended for
// bootstrapping the first account on a fresh deployment.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/mivanovs/telegate/internal/server/models"
	"github.com/mivanovs/telegate/internal/server/repositories/repomanager"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func main() {
	_ = godotenv.Load()

	dsn := flag.String("d", os.Getenv("DATABASE_DSN"), "PostgreSQL DSN")
	email := flag.String("e", "", "email of the account to create")
	migrate := flag.Bool("m", false, "run database migrations first")
	flag.Parse()

	if err := run(context.Background(), *dsn, *email, *migrate); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, dsn, email string, migrate bool) error {
	if dsn == "" {
		return errors.New("database DSN is required (-d flag or DATABASE_DSN)")
	}
	if email == "" {
		return errors.New("email is required (-e flag)")
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	m, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		return err
	}

	if migrate {
		if err := m.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	user, err := m.Users(db).Create(ctx, &models.User{Email: email, PasswordHash: string(hash)})
	if err != nil {
		return fmt.Errorf("creating account: %w", err)
	}

	fmt.Printf("account %s created (id %d)\n", user.Email, user.ID)
	return nil
}

// promptPassword reads the password twice without echo and requires both
// entries to match.
func promptPassword() ([]byte, error) {
	fmt.Print("Enter password: ")
	first, err := readPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, errors.New("password must not be empty")
	}

	fmt.Print("Repeat password: ")
	second, err := readPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(first, second) {
		return nil, errors.New("passwords do not match")
	}
	return first, nil
}
