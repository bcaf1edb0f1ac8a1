// Package logging is seer's structured logger, built on zap.
//
// Every method takes a context and prepends the run, user, request and
// trace identifiers it carries:
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithUserID(ctx, "u-42")
//	logger.Info(ctx, "pipeline run completed", zap.Int("documents", n))
//
// writes
//
//	{"level":"info","msg":"pipeline run completed","service":"seer","run.id":"...","user.id":"u-42","documents":10}
//
// Entries go to stdout or stderr and, when telemetry exports logs, to the
// OTEL log bridge. Provider keys are masked on both paths by field name and
// by value shape (sk-ant-, sk-, pplx-, bearer headers). Repeated messages
// are sampled per level; Error and above always pass.
//
// Tests use NewTestLogger and its Assert helpers.
package logging
