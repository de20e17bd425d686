package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bnema/gateway-pool/cmd"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: load .env: %v\n", err)
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
