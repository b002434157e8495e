package attacklens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attacklens/attacklens/attack"
	"github.com/attacklens/attacklens/evaluate"
	"github.com/attacklens/attacklens/fetcher"
	"github.com/attacklens/attacklens/ingest"
	"github.com/attacklens/attacklens/report"
	"github.com/attacklens/attacklens/taskerr"
	"github.com/attacklens/attacklens/workflow"
)

// Workflow and task names. The analysis DAG is
// ingest_document ∥ (fetch_bundle → parse_catalog) → evaluate_document →
// generate_report.
const (
	analysisWorkflowID = "document-analysis"
	catalogWorkflowID  = "catalog-update"

	taskIngestDocument   = "ingest_document"
	taskFetchBundle      = "fetch_bundle"
	taskParseCatalog     = "parse_catalog"
	taskEvaluateDocument = "evaluate_document"
	taskGenerateReport   = "generate_report"
)

// analysisInput names the document to analyze: a URL or an uploaded file.
type analysisInput struct {
	URL  string
	Path string
	Name string
}

// evaluation is the output of evaluate_document: the match result plus the
// inputs report generation needs.
type evaluation struct {
	result         *evaluate.Result
	doc            *ingest.Document
	catalogVersion string
}

// registerWorkflows installs the analysis and catalog-update definitions
// and the recovery handler for transient fetch failures.
func (a *analyzer) registerWorkflows() error {
	ingestTask := workflow.TaskDefinition{
		Name: taskIngestDocument,
		Handler: func(ctx context.Context, in workflow.Input) (any, error) {
			input := in.WorkflowInput.(analysisInput)
			if input.URL != "" {
				return a.processor.ProcessURL(ctx, input.URL)
			}
			return a.processor.ProcessFile(ctx, input.Path, input.Name)
		},
		ValidateInput: func(in workflow.Input) error {
			input, ok := in.WorkflowInput.(analysisInput)
			if !ok {
				return errors.New("workflow input must be an analysis input")
			}
			if input.URL == "" && input.Path == "" {
				return errors.New("either a URL or a file path is required")
			}
			return nil
		},
		ValidateOutput: typedOutput[*ingest.Document]("document"),
		Timeout:        2 * a.cfg.Ingest.GetTimeout(),
	}

	fetchTask := workflow.TaskDefinition{
		Name: taskFetchBundle,
		Handler: func(ctx context.Context, in workflow.Input) (any, error) {
			return a.fetcher.Fetch(ctx, false)
		},
		ValidateOutput: typedOutput[*fetcher.RawFetchResult]("fetch result"),
		Retries:        1,
		RetryDelay:     2 * time.Second,
	}

	parseTask := workflow.TaskDefinition{
		Name: taskParseCatalog,
		Handler: func(ctx context.Context, in workflow.Input) (any, error) {
			res := in.Results[taskFetchBundle].(*fetcher.RawFetchResult)
			catalog, err := a.parser.Parse(res.Bytes)
			if err != nil {
				return nil, err
			}
			a.swapCatalog(catalog)
			return catalog, nil
		},
		ValidateInput:  typedDep[*fetcher.RawFetchResult](taskFetchBundle),
		ValidateOutput: typedOutput[*attack.Catalog]("catalog"),
	}

	evaluateTask := workflow.TaskDefinition{
		Name: taskEvaluateDocument,
		Handler: func(ctx context.Context, in workflow.Input) (any, error) {
			doc := in.Results[taskIngestDocument].(*ingest.Document)
			catalog := in.Results[taskParseCatalog].(*attack.Catalog)

			if err := a.evaluator.Initialize(catalog); err != nil {
				return nil, err
			}
			result, err := a.evaluator.Evaluate(ctx, doc)
			if err != nil {
				return nil, err
			}
			return &evaluation{
				result:         result,
				doc:            doc,
				catalogVersion: catalog.Version(),
			}, nil
		},
		ValidateInput: func(in workflow.Input) error {
			if err := typedDep[*ingest.Document](taskIngestDocument)(in); err != nil {
				return err
			}
			return typedDep[*attack.Catalog](taskParseCatalog)(in)
		},
		ValidateOutput: typedOutput[*evaluation]("evaluation"),
	}

	reportTask := workflow.TaskDefinition{
		Name: taskGenerateReport,
		Handler: func(ctx context.Context, in workflow.Input) (any, error) {
			ev := in.Results[taskEvaluateDocument].(*evaluation)

			rep, err := a.reporter.Generate(ev.result, report.DocumentInfo{
				ID:     ev.doc.ID,
				Source: ev.doc.Source(),
				Title:  ev.doc.Metadata.Title,
				Format: ev.doc.Metadata.Format.String(),
			})
			if err != nil {
				return nil, err
			}
			rep.CatalogVersion = ev.catalogVersion

			if a.store != nil {
				if err := a.store.Save(ctx, rep); err != nil {
					return nil, err
				}
			}
			return rep, nil
		},
		ValidateInput:  typedDep[*evaluation](taskEvaluateDocument),
		ValidateOutput: typedOutput[*report.Report]("report"),
	}

	err := a.engine.RegisterWorkflow(workflow.Definition{
		ID:    analysisWorkflowID,
		Tasks: []workflow.TaskDefinition{ingestTask, fetchTask, parseTask, evaluateTask, reportTask},
		Dependencies: map[string][]string{
			taskParseCatalog:     {taskFetchBundle},
			taskEvaluateDocument: {taskIngestDocument, taskParseCatalog},
			taskGenerateReport:   {taskEvaluateDocument},
		},
	})
	if err != nil {
		return err
	}

	forceFetchTask := workflow.TaskDefinition{
		Name: taskFetchBundle,
		Handler: func(ctx context.Context, in workflow.Input) (any, error) {
			return a.fetcher.Fetch(ctx, true)
		},
		ValidateOutput: typedOutput[*fetcher.RawFetchResult]("fetch result"),
		Retries:        1,
		RetryDelay:     2 * time.Second,
	}

	err = a.engine.RegisterWorkflow(workflow.Definition{
		ID:    catalogWorkflowID,
		Tasks: []workflow.TaskDefinition{forceFetchTask, parseTask},
		Dependencies: map[string][]string{
			taskParseCatalog: {taskFetchBundle},
		},
	})
	if err != nil {
		return err
	}

	// A fetch that exhausts its retries may still be recoverable from the
	// stale cache the fetcher left behind.
	a.engine.RegisterRecovery(taskerr.KindTransient, func(ctx context.Context, runID, task string, err error) (any, error) {
		if task != taskFetchBundle {
			return nil, err
		}
		res, ferr := a.fetcher.Fetch(ctx, false)
		if ferr != nil {
			return nil, err
		}
		a.logger.Warn("recovered bundle fetch from cache",
			"run_id", runID, "version", res.Version)
		return res, nil
	})

	return nil
}

// typedOutput rejects handler outputs that are not the expected type.
func typedOutput[T any](what string) func(any) error {
	return func(out any) error {
		if _, ok := out.(T); !ok {
			return fmt.Errorf("expected a %s, got %T", what, out)
		}
		return nil
	}
}

// typedDep rejects inputs whose named dependency result is missing or of
// the wrong type.
func typedDep[T any](dep string) func(workflow.Input) error {
	return func(in workflow.Input) error {
		if _, ok := in.Results[dep].(T); !ok {
			return fmt.Errorf("dependency %s produced %T", dep, in.Results[dep])
		}
		return nil
	}
}
