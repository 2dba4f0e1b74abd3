// Package main uploads the artifacts the portal serves into the configured
// storage backend: data-room documents, receipt PDFs, annual statements and
// the donation ledgers reconciliation reads.
//
// Usage:
//
//	publish document <key> <file>
//	publish receipt <donationId> <file.pdf>
//	publish statement <donorId> <year> <file.pdf>
//	publish ledger <square|internal> <file.csv>
//
// Object keys follow the same configuration (receipts.path_prefix,
// receipts.statement_prefix, reconciliation.path_prefix) the server reads.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sparkcreatives/spark-portal/internal/api/receipts"
	"github.com/sparkcreatives/spark-portal/internal/config"
	"github.com/sparkcreatives/spark-portal/internal/reconciliation"
	"github.com/sparkcreatives/spark-portal/internal/storage"
	"github.com/sparkcreatives/spark-portal/internal/telemetry"

	// Import storage backends to register them
	_ "github.com/sparkcreatives/spark-portal/internal/storage/azure"
	_ "github.com/sparkcreatives/spark-portal/internal/storage/gcs"
	_ "github.com/sparkcreatives/spark-portal/internal/storage/local"
	_ "github.com/sparkcreatives/spark-portal/internal/storage/s3"
)

const usage = `usage:
  publish document <key> <file>
  publish receipt <donationId> <file.pdf>
  publish statement <donorId> <year> <file.pdf>
  publish ledger <square|internal> <file.csv>`

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	telemetry.SetupLogger("text", cfg.Logging.Level)

	store, err := storage.NewStorage(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize storage backend: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := run(ctx, cfg, store, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, store storage.Storage, args []string, stdout io.Writer) error {
	key, file, err := objectKey(cfg, args)
	if err != nil {
		return err
	}
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", file, err)
	}

	result, err := store.Upload(ctx, key, f, info.Size())
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	fmt.Fprintf(stdout, "%s\t%d bytes\tsha256:%s\t(%s)\n", result.Path, result.Size, result.Checksum, store.Name())
	return nil
}

// objectKey maps a command line to the storage key and the local file to
// upload.
func objectKey(cfg *config.Config, args []string) (key, file string, err error) {
	if len(args) == 0 {
		return "", "", fmt.Errorf("missing command\n%s", usage)
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "document":
		if len(rest) != 2 {
			return "", "", fmt.Errorf("document takes <key> <file>\n%s", usage)
		}
		return rest[0], rest[1], nil
	case "receipt":
		if len(rest) != 2 {
			return "", "", fmt.Errorf("receipt takes <donationId> <file.pdf>\n%s", usage)
		}
		if !receipts.ValidID(rest[0]) {
			return "", "", fmt.Errorf("invalid donation id %q", rest[0])
		}
		return receipts.ReceiptKey(cfg.Receipts.PathPrefix, rest[0]), rest[1], nil
	case "statement":
		if len(rest) != 3 {
			return "", "", fmt.Errorf("statement takes <donorId> <year> <file.pdf>\n%s", usage)
		}
		if !receipts.ValidID(rest[0]) {
			return "", "", fmt.Errorf("invalid donor id %q", rest[0])
		}
		if !receipts.ValidYear(rest[1]) {
			return "", "", fmt.Errorf("invalid year %q", rest[1])
		}
		return receipts.StatementKey(cfg.Receipts.StatementPrefix, rest[0], rest[1]), rest[2], nil
	case "ledger":
		if len(rest) != 2 {
			return "", "", fmt.Errorf("ledger takes <square|internal> <file.csv>\n%s", usage)
		}
		var name string
		switch rest[0] {
		case "square":
			name = reconciliation.SquareLedger
		case "internal":
			name = reconciliation.InternalLedger
		default:
			return "", "", fmt.Errorf("unknown ledger %q (want square or internal)", rest[0])
		}
		return reconciliation.Key(cfg.Reconciliation.PathPrefix, name), rest[1], nil
	default:
		return "", "", fmt.Errorf("unknown command: %s\n%s", cmd, usage)
	}
}
