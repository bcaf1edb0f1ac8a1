// Package pipeline sequences the retrieval and ranking stages of a run.
//
// A run moves through search, normalize, heuristics, fuse, rerank, embed,
// mmr and novelty. Search fans out one call per provider and query; a
// failed call costs only its own results. Later stages are synchronous
// batch transforms.
//
// Failure handling follows three rules:
//   - per-document and per-provider failures are logged and recorded on
//     the Result, never returned
//   - an unrecoverable stage failure returns the Result so far with a
//     *StageError
//   - cancellation by the caller returns a *PipelineAbortedError and no
//     Result
package pipeline
