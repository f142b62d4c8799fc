// Package logging provides structured logging for docpipe.
//
// Logger wraps Zap with context-aware methods that attach run correlation
// fields (trace_id, span_id, run.id, step.id, instance) pulled from the
// context. Sensitive field names and secret-looking values are redacted by
// the encoder, levels below Error are sampled, and logs may additionally be
// bridged to an OpenTelemetry LoggerProvider.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithStepID(ctx, "rag")
//	logger.Info(ctx, "retrieval complete", zap.Int("docs", n))
package logging
