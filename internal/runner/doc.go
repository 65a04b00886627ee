// Package runner performs one quicperf measurement run.
//
// A run initializes the store, loads the page once through the extractor,
// assigns the measurement its identifier and appends it. For QUIC runs the
// proxy's qlog is then drained into the store, linked to that identifier.
//
// # Basic Usage
//
//	opts, err := runner.OptionsFromConfig(cfg, tracer)
//	if err != nil {
//		return err
//	}
//	res, err := runner.New(opts).Run(ctx)
//
// # Failure Handling
//
// Page-load failures never fail a run: they are stored as a zero-filled
// measurement with its error text set. Store failures abort the run with a
// wrapped error. A qlog that cannot be drained is logged and reported in
// [Result.DiagnosticErr] while the run still succeeds.
//
// The store is closed on every path, including failures.
package runner
