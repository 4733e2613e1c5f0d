// Package pipeline drives one package from "unknown" to "ready" or "failed".
//
// # Steps
//
// A run executes these steps strictly in order:
//
//  1. check-existing: graph.json already stored, mark ready and stop; if the
//     transient _cross-edges.json is still there too, skip to step 6
//  2. set-status-resolving
//  3. resolve-metadata: download URL and declared dependencies
//  4. set-status-fetching
//  5. fetch-parse-store: download, acquire extra source, parse, partition,
//     resolve latest versions of referenced packages, write graph.json,
//     index.json and the transient _cross-edges.json
//  6. set-status-indexing, then index-cross-edges into the registry
//  7. fanout-dependencies: enqueue unknown dependencies, then remove
//     _cross-edges.json
//  8. set-status-ready
//
// Steps retry every error that is not terminal (see [errors.IsTerminal]).
// Any error that survives a step's retries marks the package failed with a
// remediation hint and ends the run.
//
// # Durability
//
// Every completed step is recorded in a [Journal] under the run's attempt id
// together with its output. A run for a key with an open attempt resumes it,
// skipping steps already recorded, so a crash between steps never repeats
// work whose effects are already confirmed. [SQLiteJournal] keeps attempts
// across restarts; [MemoryJournal] is for tests and one-shot CLI runs.
//
// # Usage
//
//	o := pipeline.New(pipeline.Config{
//	    Registry: reg,
//	    Store:    store,
//	    Metadata: router,
//	    Parsers:  parser.Default(),
//	})
//	o.Start(ctx)
//	defer o.Close()
//	rec, err := o.Trigger(ctx, key)
package pipeline
