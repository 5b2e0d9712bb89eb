// Package routine supervises long-running background units.
//
// Every unit implements Routine: Start blocks while the unit works and Stop asks it to
// finish, returning only once Start has returned. Periodic wraps a function that runs on
// a ticker and isolates its failures: errors and panics are logged, and the next tick runs
// as usual. Group composes heterogeneous routines (worker pools, schedulers, janitors,
// HTTP servers) behind the same Start/Stop contract.
//
// Typical wiring from a main function:
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	janitor := routine.NewPeriodic("janitor", time.Minute, reclaim)
//	if err := routine.Run(ctx, worker, scheduler, janitor, server); err != nil {
//		return err
//	}
package routine
