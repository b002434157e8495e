package attacklens

import (
	"log/slog"
	"net/http"

	"github.com/attacklens/attacklens/llm"
	"github.com/attacklens/attacklens/report"
)

// Option configures the analyzer built by New.
type Option func(*analyzer)

// WithLogger replaces the logger derived from the logging configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(a *analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithHTTPClient replaces the HTTP client used for bundle and document
// fetches. Test seam.
func WithHTTPClient(client *http.Client) Option {
	return func(a *analyzer) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithReportStore replaces the in-memory report store. Completed analyses
// save their report here; GetRun returns the stored report's ID.
func WithReportStore(store report.Store) Option {
	return func(a *analyzer) {
		if store != nil {
			a.store = store
		}
	}
}

// WithLLMProvider replaces the HTTP completion provider built from the llm
// configuration section. The provider is still wrapped in the circuit
// breaker and response cache.
func WithLLMProvider(provider llm.Provider) Option {
	return func(a *analyzer) {
		a.llmProvider = provider
	}
}
