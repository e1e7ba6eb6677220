package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidchen/finsight/internal/blob"
	"github.com/davidchen/finsight/internal/config"
	"github.com/davidchen/finsight/internal/store"
)

var (
	sweepOwner string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete stale processing records for one tenant",
	Long: `Delete records that have been stuck in the processing state longer than
STALE_AFTER_MINUTES. These are left behind when a worker crashes between
creating a record and writing its terminal state.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepOwner, "owner", "", "Tenant whose stale records to remove (required)")
	_ = sweepCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	blobCfg, err := config.NewBlobConfig()
	if err != nil {
		return fmt.Errorf("failed to create blob config: %w", err)
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
		return fmt.Errorf("failed to connect to object store: %w", err)
	}

	storeCfg, err := config.NewStoreConfig()
	if err != nil {
		return fmt.Errorf("failed to create store config: %w", err)
	}

	st := store.New(client, storeCfg.Root)
	removed, err := st.DeleteStale(ctx, sweepOwner, storeCfg.StaleAfter)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Printf("Removed %d stale record(s) for %s (older than %s)\n", removed, sweepOwner, storeCfg.StaleAfter)
	return nil
}
