package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/eldtechnologies/teamchat/internal/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("MESSAGE_ENCRYPTION_KEY=%s\n", hex.EncodeToString(key))
}
