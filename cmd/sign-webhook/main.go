// Package main is a development utility that signs a Square webhook payload
// the way Square does, so deliveries can be replayed against a local or
// staging portal with curl. It reads the body from a file (or stdin) and
// prints the signature and timestamp headers to send with it.
//
//	sign-webhook -key "$SPARK_WEBHOOKS_SQUARE_SIGNATURE_KEY" \
//	  -url https://portal.example.org/api/v1/webhooks/square event.json
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sparkcreatives/spark-portal/internal/api/webhooks"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("sign-webhook", flag.ContinueOnError)
	key := fs.String("key", os.Getenv("SPARK_WEBHOOKS_SQUARE_SIGNATURE_KEY"), "Square signature key")
	notificationURL := fs.String("url", os.Getenv("SPARK_WEBHOOKS_SQUARE_NOTIFICATION_URL"), "notification URL registered with Square")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" || *notificationURL == "" {
		return fmt.Errorf("both -key and -url are required")
	}

	var body []byte
	var err error
	if path := fs.Arg(0); path != "" && path != "-" {
		body, err = os.ReadFile(path) // #nosec G304 -- operator-supplied path on a developer machine
	} else {
		body, err = io.ReadAll(stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	fmt.Fprintf(stdout, "%s: %s\n", webhooks.SignatureHeader, webhooks.Sign(*key, *notificationURL, body))
	fmt.Fprintf(stdout, "%s: %d\n", webhooks.TimestampHeader, time.Now().Unix())
	return nil
}
