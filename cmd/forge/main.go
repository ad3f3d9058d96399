// cmd/forge/main.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

// forge is a content-addressed deduplicating backup tool.  Run
// "forge readme" for a description of the storage format.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/backupforge/forge/chunk"
	"github.com/backupforge/forge/compress"
	"github.com/backupforge/forge/crypt"
	"github.com/backupforge/forge/engine"
	"github.com/backupforge/forge/storage"
	"github.com/backupforge/forge/util"
)

var (
	repoPath    string
	gcsProject  string
	verbose     bool
	debug       bool
	compression string
	zstdLevel   int
	cipherSuite string
	strategy    string
	parallelism int
	paritySpec  string

	log *util.Logger
)

var rootCmd = &cobra.Command{
	Use:           "forge",
	Short:         "content-addressed deduplicating backup",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = util.NewLogger(verbose, debug)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", os.Getenv("FORGE_REPO"),
		"repository: a local directory or gs://bucket")
	rootCmd.PersistentFlags().StringVar(&gcsProject, "project", "",
		"GCP project id (only needed to create a new bucket)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"debugging output")
	rootCmd.PersistentFlags().StringVar(&compression, "compression", "zstd",
		"compression codec: none, lz4, or zstd")
	rootCmd.PersistentFlags().IntVar(&zstdLevel, "level", 0,
		"zstd compression level (1-22; 0 picks the default)")
	rootCmd.PersistentFlags().StringVar(&cipherSuite, "cipher", "chacha20poly1305",
		"cipher suite when encrypting: chacha20poly1305 or aes256gcm")
	rootCmd.PersistentFlags().StringVar(&strategy, "strategy", "cdc",
		"chunking strategy: cdc or fixed")
	rootCmd.PersistentFlags().IntVarP(&parallelism, "parallel", "j", 0,
		"concurrent chunk workers (0 = number of CPUs)")
	rootCmd.PersistentFlags().StringVar(&paritySpec, "parity", "",
		"Reed-Solomon parity as data+parity shard counts, e.g. 4+2")

	rootCmd.AddCommand(backupCmd, restoreCmd, snapshotsCmd, verifyCmd, readmeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "forge: %s\n", err)
		os.Exit(1)
	}
}

// openBackend builds the backend stack for the --repo flag: GCS or
// local disk, wrapped with retries and, if requested, parity.
func openBackend(ctx context.Context) (storage.Backend, error) {
	if repoPath == "" {
		return nil, fmt.Errorf("no repository; use --repo or set FORGE_REPO")
	}

	var backend storage.Backend
	var err error
	if bucket, ok := strings.CutPrefix(repoPath, "gs://"); ok {
		backend, err = storage.NewGCS(ctx, storage.GCSOptions{
			BucketName: bucket,
			ProjectId:  gcsProject,
		})
	} else {
		backend, err = storage.NewDisk(repoPath)
	}
	if err != nil {
		return nil, err
	}

	backend = storage.NewRetrying(backend, storage.DefaultRetryPolicy())

	if paritySpec != "" {
		var nData, nParity int
		if _, err := fmt.Sscanf(paritySpec, "%d+%d", &nData, &nParity); err != nil {
			return nil, fmt.Errorf("%s: parity must look like 4+2", paritySpec)
		}
		backend, err = storage.NewParity(backend, nData, nParity)
		if err != nil {
			return nil, err
		}
	}

	log.Verbose("repository: %s", backend.String())
	return backend, nil
}

// sessionKey resolves the encryption key for this run.  The passphrase
// comes from FORGE_PASSPHRASE; without one the repository is used
// unencrypted, which is only allowed if it wasn't initialized with
// keys.
func sessionKey(ctx context.Context, backend storage.Backend, mayCreate bool) (*crypt.Key, error) {
	passphrase := os.Getenv("FORGE_PASSPHRASE")

	hasKey, err := crypt.HasKey(ctx, backend)
	if err != nil {
		return nil, err
	}

	if passphrase == "" {
		if hasKey {
			return nil, fmt.Errorf("repository is encrypted; set FORGE_PASSPHRASE")
		}
		return nil, nil
	}
	if hasKey {
		return crypt.LoadKey(ctx, backend, passphrase)
	}
	if !mayCreate {
		return nil, crypt.ErrNoKeys
	}
	log.Print("initializing repository encryption keys")
	return crypt.CreateKey(ctx, backend, passphrase, crypt.DefaultParams())
}

// newEngine assembles an engine from the command line configuration,
// with the dedup index rebuilt from the repository.  The backend is
// returned as well for snapshot metadata access.
func newEngine(ctx context.Context, mayCreateKeys bool) (*engine.Engine, storage.Backend, error) {
	backend, err := openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}

	codec, err := compress.ParseCodec(compression)
	if err != nil {
		return nil, nil, err
	}
	strat, err := chunk.ParseStrategy(strategy)
	if err != nil {
		return nil, nil, err
	}

	key, err := sessionKey(ctx, backend, mayCreateKeys)
	if err != nil {
		return nil, nil, err
	}
	suite := crypt.SuiteNone
	if key != nil {
		if suite, err = crypt.ParseSuite(cipherSuite); err != nil {
			return nil, nil, err
		}
	}

	e, err := engine.New(engine.Options{
		Backend:     backend,
		Strategy:    strat,
		Codec:       codec,
		ZstdLevel:   zstdLevel,
		Suite:       suite,
		Key:         key,
		Parallelism: parallelism,
		Log:         log,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := e.RebuildIndex(ctx); err != nil {
		e.Close()
		return nil, nil, err
	}
	return e, backend, nil
}
