package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/eldtechnologies/teamchat/internal/api/middleware"
)

func main() {
	_ = godotenv.Load()

	userID := flag.String("user", "", "User UUID (token subject)")
	name := flag.String("name", "", "Display name claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HS256 secret (defaults to $JWT_SECRET)")
	flag.Parse()

	if *userID == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "Usage: token -user <user-uuid> [-name <name>] [-ttl 24h] [-secret <secret>]")
		fmt.Fprintln(os.Stderr, "  Reads the secret from JWT_SECRET if -secret is not given")
		os.Exit(1)
	}

	id, err := uuid.Parse(*userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid user ID: %v\n", err)
		os.Exit(1)
	}

	token, err := middleware.IssueToken([]byte(*secret), id, *name, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Authorization: Bearer %s\n", token)
}
