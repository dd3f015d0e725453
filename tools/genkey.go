package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// Generates an API key for the order API and prints the sha256 hash to insert
// into the api_keys table.
func main() {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		fmt.Fprintln(os.Stderr, "rand failed:", err)
		os.Exit(1)
	}
	key := hex.EncodeToString(raw)
	hash := sha256.Sum256([]byte(key))
	fmt.Println("api key: ", key)
	fmt.Println("key hash:", hex.EncodeToString(hash[:]))
}
