// Command hash-password prints a bcrypt hash accepted by the users table, for
// resetting a password directly in the database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/psicoconnect/server-go/internal/service"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost, keep in line with BCRYPT_COST")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-password.go [-cost n] <password>\n")
		os.Exit(1)
	}

	password := flag.Arg(0)
	if len(password) < service.MinPasswordLength {
		fmt.Fprintf(os.Stderr, "Error: password must be at least %d characters\n", service.MinPasswordLength)
		os.Exit(1)
	}

	hash, err := service.NewPasswordHasher(1, *cost).Hash(context.Background(), password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
