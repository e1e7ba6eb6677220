// Command migrate_records relocates analysis records written before tenant
// isolation into the per-tenant key layout.
//
// Legacy objects live directly under the record root; migrated objects live
// under root/tenant_{owner}/. Records whose body carries no owner are stamped
// with the owner given on the command line.
//
// Usage:
//
//	go run cmd/tools/migrate_records/main.go --owner <user-id> [--dry-run]
//
// Requires BLOB_BUCKET (and the usual AWS credentials) to be set.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/davidchen/finsight/internal/blob"
	"github.com/davidchen/finsight/internal/config"
	"github.com/davidchen/finsight/internal/store"
)

func main() {
	_ = godotenv.Load()

	owner := flag.String("owner", "", "default owner stamped on ownerless records (required)")
	dryRun := flag.Bool("dry-run", false, "report intended moves without writing or deleting anything")
	flag.Parse()

	if *owner == "" {
		fmt.Fprintln(os.Stderr, "ERROR: --owner is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()

	blobCfg, err := config.NewBlobConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	client, err := blob.NewS3Client(ctx, blob.S3Options{
		Bucket:          blobCfg.Bucket,
		Region:          blobCfg.Region,
		Endpoint:        blobCfg.Endpoint,
		AccessKeyID:     blobCfg.AccessKeyID,
		SecretAccessKey: blobCfg.SecretAccessKey,
		UsePathStyle:    blobCfg.UsePathStyle,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to object store: %v\n", err)
		os.Exit(1)
	}

	storeCfg, err := config.NewStoreConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Record Migration ===")
	if *dryRun {
		fmt.Println("(dry run: nothing will be moved)")
	}
	fmt.Println()

	st := store.New(client, storeCfg.Root)
	report, err := st.MigrateLegacy(ctx, *owner, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Migration failed: %v\n", err)
		os.Exit(1)
	}

	for _, move := range report.Moves {
		fmt.Printf("  %s -> %s (owner %s)\n", move.FromKey, move.ToKey, move.Owner)
	}
	fmt.Println()
	fmt.Printf("Moved: %d  Skipped: %d  Failed: %d\n", len(report.Moves), report.Skipped, report.Failed)

	if report.Failed > 0 {
		os.Exit(1)
	}
}
