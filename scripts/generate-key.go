// Package main is a development utility for generating a signing key for the
// local storage backend. The key signs the expiring /api/v1/files/ links the
// data room hands out; without one the server generates an ephemeral key and
// links stop verifying after every restart. It prints the key and a
// ready-to-paste environment line.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		log.Fatal(err)
	}

	key := base64.RawURLEncoding.EncodeToString(randomBytes)

	fmt.Println("Local storage signing key generated:")
	fmt.Println("  Key:", key)
	fmt.Println()
	fmt.Println("Add to your environment or config file:")
	fmt.Printf("  SPARK_STORAGE_LOCAL_SIGNING_KEY=%s\n", key)
}
