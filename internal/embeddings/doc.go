// Package embeddings provides embedding generation via multiple providers.
//
// Supports TEI (external service), OpenAI-compatible endpoints through
// langchaingo and FastEmbed (local ONNX, cgo builds only). FromConfig
// selects the backend and wraps it so every call records otel metrics.
// The fastembed backend installs the ONNX runtime into embeddings.runtime_dir
// on first use unless ONNX_PATH points at one.
//
// Attach embeds ranked documents in place and never fails the batch: a
// document that cannot be embedded keeps a nil Embedding.
package embeddings
