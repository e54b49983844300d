// Package model defines the provider-agnostic abstraction used by stage
// invokers and evaluators to reach language models.
//
// Core goals:
//   - Keep request/response shapes minimal and transport independent
//   - Surface every provider failure as a *core.CapabilityError, marking
//     non-transient failures (authentication, bad request) as terminal
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (stages, evaluation) remain decoupled from vendor SDKs.
package model
