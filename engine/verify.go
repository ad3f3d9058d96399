// engine/verify.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package engine

import (
	"context"
	"sync"

	"github.com/backupforge/forge/chunk"
)

// VerifyReport lists what a snapshot verification found.  An empty
// Problems slice means every referenced record decoded, authenticated
// and hashed back to its id.
type VerifyReport struct {
	ChunksChecked int
	Problems      []FileFailure
}

// Verify reads back every chunk the snapshot references and checks it
// end to end: record framing, authentication tag, compression frame,
// and content id.  Each unique chunk is fetched once even when many
// files share it.
func (e *Engine) Verify(ctx context.Context, snap *Snapshot) (*VerifyReport, error) {
	type outcome struct {
		err error
	}
	checked := make(map[chunk.ID]*outcome)
	for _, file := range snap.Files {
		for _, id := range file.Chunks {
			if _, ok := checked[id]; !ok {
				checked[id] = &outcome{}
			}
		}
	}

	// On cancellation, stop spawning but still drain the workers already
	// in flight; returning with goroutines holding semaphore slots would
	// poison later runs on the same engine.
	var wg sync.WaitGroup
	var ctxErr error
	for id, out := range checked {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		e.sem <- true
		wg.Add(1)
		go func() {
			defer func() { <-e.sem; wg.Done() }()
			_, out.err = e.loadChunk(ctx, id)
		}()
	}
	wg.Wait()
	if ctxErr != nil {
		return nil, ctxErr
	}

	report := &VerifyReport{ChunksChecked: len(checked)}
	for _, file := range snap.Files {
		for _, id := range file.Chunks {
			if err := checked[id].err; err != nil {
				report.Problems = append(report.Problems, FileFailure{
					Path:    file.Path,
					Message: (&FileError{Path: file.Path, Chunk: id, Err: err}).Error(),
				})
				break
			}
		}
	}
	e.log.Verbose("verify %s: %d chunks checked, %d problem files",
		snap.ID, report.ChunksChecked, len(report.Problems))
	return report, nil
}
