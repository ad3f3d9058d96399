// cmd/forge/snapshots.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backupforge/forge/engine"
	"github.com/backupforge/forge/util"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "list the snapshots in the repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		backend, err := openBackend(ctx)
		if err != nil {
			return err
		}

		ids, err := engine.ListSnapshots(ctx, backend)
		if err != nil {
			return err
		}

		for _, id := range ids {
			snap, err := engine.ReadSnapshot(ctx, backend, id)
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s  %4d files  %8s  %s\n", snap.ID,
				snap.StartTime.Local().Format("2006-01-02 15:04:05"),
				len(snap.Files), util.FmtBytes(snap.LogicalBytes),
				snap.Description)
		}
		return nil
	},
}
