// Package llm provides the optional remote-completion collaborator used to
// augment local technique matching. It defines the completion request and
// response types, a Provider interface with an OpenAI-wire HTTP
// implementation, a consecutive-failure circuit breaker, and a response
// cache with in-memory LRU and Redis backends. The evaluator's contract is
// unchanged whether an LLM is configured or not; every failure here is
// isolated behind the Client.
package llm
