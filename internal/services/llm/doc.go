// Package llm provides an OpenRouter-style chat client used for AI-assisted
// worker matching.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.CompleteJSON: send system/user prompts, receive a JSON response.
// Client.SuggestWorker: ask the model to pick one worker from a roster.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors and network timeouts with
// exponential backoff. Context cancellation aborts retries immediately, so a
// caller-imposed deadline bounds the whole call including retries.
//
// # Trust
//
// Responses are untrusted. SuggestWorker rejects empty ids and scores outside
// 0..1; callers must still confirm the suggested worker is eligible.
package llm
