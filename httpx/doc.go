// Package httpx adapts net/http clients to the vigil resilience engine.
// Requests run through the engine's retry loop and an optional circuit
// breaker; 4xx and 5xx responses become StatusError values the engine's
// classifier maps onto the failure taxonomy via their status codes.
package httpx
