// Package llm provides the language-model service used for intent fallback and
// document generation. Providers (Anthropic, OpenAI, Gemini) sit behind Client;
// business logic only talks to Service, which adds rate limiting, circuit
// breaking, retries and JSON extraction.
package llm
