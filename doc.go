// Package attacklens analyzes documents against the MITRE ATT&CK technique
// catalog. It binds a five-stage pipeline — fetch the STIX bundle, parse it
// into an immutable catalog, ingest the document, evaluate it with local
// matchers and optional LLM augmentation, and generate a report — through a
// workflow engine that schedules the stages as a task DAG.
//
// The entry point is the Analyzer:
//
//	cfg, err := config.Load("attacklens.yaml")
//	a, err := attacklens.New(cfg)
//	if err := a.Start(ctx); err != nil { ... }
//	defer a.Shutdown(ctx)
//
//	runID, err := a.AnalyzeURL(ctx, "https://example.com/threat-report.html")
//	status, err := a.GetRun(ctx, runID)
//
// Analyses run asynchronously; GetRun reports progress and, once the run
// completes, the ID of the stored report.
package attacklens
