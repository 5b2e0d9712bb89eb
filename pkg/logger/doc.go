// Package logger provides a context-aware wrapper around Go's slog package
// adding functional options for configuration, helper attribute constructors,
// and transparent injection of values stored in context.Context.
//
// New creates a *slog.Logger configured by a set of Option functions. These
// options allow you to:
//
//   - Select an output format (text or json)
//   - Set the minimum log level, by value or by name
//   - Supply default slog.Attr values applied to every record
//   - Register ContextExtractor callbacks that inject attributes pulled from a
//     context value (for example a request id) every time Handle is invoked.
//   - Tag records with the job being processed (WithJob plus WithJobContext),
//     so handler code logs job_id, queue, kind and attempt without passing them.
//
// # Architecture
//
// New determines the concrete slog.Handler implementation, slog.NewTextHandler
// or slog.NewJSONHandler, based on the configured Format. It then wraps the
// handler with LogHandlerDecorator which executes any registered
// ContextExtractor callbacks before delegating to the underlying handler. An
// extracted attribute whose key the logger or record already carries is skipped.
//
// Helper constructors such as JobID, Queue, Kind and Error live in attr.go and
// keep attribute naming consistent between the worker, scheduler, janitor and
// gateway logs.
//
// # Usage
//
//	import "github.com/dmitrymomot/bgjobs/pkg/logger"
//
//	func main() {
//	    log := logger.New(
//	        logger.WithEnvironment(os.Getenv("APP_ENV"), "bgjobs"),
//	        logger.WithLevelName(os.Getenv("LOG_LEVEL")),
//	    )
//	    logger.SetAsDefault(log)
//
//	    log.Info("job completed",
//	        logger.Queue("emails"),
//	        logger.JobID(job.ID),
//	        logger.Duration(time.Since(start)),
//	    )
//	}
//
// # Error Handling
//
// Helper functions Error and Errors produce attributes only when the supplied
// error value is non-nil allowing calls like:
//
//	log.Info("operation finished", logger.Error(err))
//
// without an additional nil check.
package logger
