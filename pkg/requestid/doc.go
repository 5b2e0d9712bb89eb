// Package requestid correlates executor calls with gateway log records.
//
// The gateway wraps its router with Middleware, which accepts a valid
// X-Request-ID header or assigns a fresh UUID, stores it in the request context
// and echoes it back. The executor client calls Propagate on every request so a
// claim, its heartbeats and the final report can be traced on both sides.
//
// LoggerExtractor plugs into logger.WithContextExtractors so every record
// logged with a request context carries a request_id attribute:
//
//	log := logger.New(logger.WithContextExtractors(requestid.LoggerExtractor()))
package requestid
