// Package config provides environment-driven configuration for the FinSight
// server. Each constructor reads its own variables and fails fast on missing
// required values; `.env` loading happens once in main via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// BlobConfig holds the object storage connection settings.
type BlobConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewBlobConfig reads BLOB_* and AWS_* variables. BLOB_BUCKET is required;
// BLOB_ENDPOINT and BLOB_PATH_STYLE support S3-compatible services.
func NewBlobConfig() (*BlobConfig, error) {
	bucket := os.Getenv("BLOB_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("BLOB_BUCKET is required but not set")
	}

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}

	pathStyle := false
	if v := os.Getenv("BLOB_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BLOB_PATH_STYLE: %v", err)
		}
		pathStyle = b
	}

	return &BlobConfig{
		Bucket:          bucket,
		Region:          region,
		Endpoint:        os.Getenv("BLOB_ENDPOINT"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		UsePathStyle:    pathStyle,
	}, nil
}

// StoreConfig holds record store tuning.
type StoreConfig struct {
	// Root is the top-level key prefix records live under.
	Root string
	// StaleAfter is how old a Processing record may get before the sweep
	// considers it abandoned.
	StaleAfter time.Duration
}

// NewStoreConfig reads RECORD_ROOT (default "analysis-records") and
// STALE_AFTER_MINUTES (default 30).
func NewStoreConfig() (*StoreConfig, error) {
	root := os.Getenv("RECORD_ROOT")
	if root == "" {
		root = "analysis-records"
	}

	staleMinutes := 30
	if v := os.Getenv("STALE_AFTER_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid STALE_AFTER_MINUTES: %v", err)
		}
		if n < 1 {
			return nil, fmt.Errorf("STALE_AFTER_MINUTES must be at least 1, got: %d", n)
		}
		staleMinutes = n
	}

	return &StoreConfig{
		Root:       root,
		StaleAfter: time.Duration(staleMinutes) * time.Minute,
	}, nil
}

// AnalysisConfig holds workflow tuning.
type AnalysisConfig struct {
	Timeout time.Duration
}

// NewAnalysisConfig reads ANALYSIS_TIMEOUT_SECONDS (default 240).
func NewAnalysisConfig() (*AnalysisConfig, error) {
	seconds := 240
	if v := os.Getenv("ANALYSIS_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ANALYSIS_TIMEOUT_SECONDS: %v", err)
		}
		if n < 1 {
			return nil, fmt.Errorf("ANALYSIS_TIMEOUT_SECONDS must be at least 1, got: %d", n)
		}
		seconds = n
	}
	return &AnalysisConfig{Timeout: time.Duration(seconds) * time.Second}, nil
}
