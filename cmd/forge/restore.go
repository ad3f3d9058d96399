// cmd/forge/restore.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backupforge/forge/engine"
	"github.com/backupforge/forge/util"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot-id> <directory>",
	Short: "restore a snapshot into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, backend, err := newEngine(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		snap, err := engine.ReadSnapshot(ctx, backend, args[0])
		if err != nil {
			return err
		}

		report, err := e.Restore(ctx, snap, args[1])
		if err != nil {
			return err
		}

		fmt.Printf("restored %d files, %s\n", report.FilesRestored,
			util.FmtBytes(report.BytesRestored))
		for _, failure := range report.Failed {
			fmt.Printf("  FAILED %s: %s\n", failure.Path, failure.Message)
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d files failed", len(report.Failed))
		}
		return nil
	},
}
