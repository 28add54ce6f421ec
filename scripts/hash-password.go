//go:build ignore

// Prints a bcrypt hash for CONTROL_PASSWORD_HASH.
package main

import (
	"fmt"
	"os"

	"github.com/mesophy/signaged/internal/util"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-password.go <password>\n")
		os.Exit(1)
	}

	hash, err := util.HashPassword(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
