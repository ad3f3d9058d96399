// cmd/forge/backup.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backupforge/forge/engine"
	"github.com/backupforge/forge/util"
)

var backupDescription string

var backupCmd = &cobra.Command{
	Use:   "backup <directory>",
	Short: "back up a directory tree into the repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, _, err := newEngine(ctx, true)
		if err != nil {
			return err
		}
		defer e.Close()

		snap, err := e.Backup(ctx, engine.NewTreeSource(args[0]), backupDescription)
		if err != nil {
			return err
		}

		fmt.Printf("snapshot %s\n", snap.ID)
		fmt.Printf("  %d files, %s logical, %s stored, %d new / %d duplicate chunks\n",
			len(snap.Files), util.FmtBytes(snap.LogicalBytes),
			util.FmtBytes(snap.StoredBytes), snap.NewChunks, snap.DuplicateChunks)
		for _, failure := range snap.Failed {
			fmt.Printf("  FAILED %s: %s\n", failure.Path, failure.Message)
		}
		if len(snap.Failed) > 0 {
			return fmt.Errorf("%d files failed", len(snap.Failed))
		}
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupDescription, "description", "",
		"description recorded in the snapshot (default: the source path)")
}
