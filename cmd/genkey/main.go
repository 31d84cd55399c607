package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/crypto"
)

func main() {
	size := flag.Int("bytes", 32, "Number of random bytes in the secret")
	env := flag.Bool("env", false, "Print as an API_SECRET=... line for a .env file")
	flag.Parse()

	if *size < 16 {
		fmt.Fprintln(os.Stderr, "secret must be at least 16 bytes")
		os.Exit(1)
	}

	secret, err := crypto.RandomHex(*size)
	if err != nil {
		panic(err)
	}

	if *env {
		fmt.Printf("API_SECRET=%s\n", secret)
		return
	}
	fmt.Println(secret)
}
