package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Prints a random value for SERVER_AUTH_TOKEN.
func main() {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}

	fmt.Printf("SERVER_AUTH_TOKEN=%s\n", base64.RawURLEncoding.EncodeToString(buf))
}
