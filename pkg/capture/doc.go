// ABOUTME: Package capture records live audio from an endpoint
// ABOUTME: One worker thread per engine, event-driven or polled cadence

// Package capture implements the capture engine: a dedicated worker thread
// pulls hardware buffers at an event-driven or polled cadence, applies gain
// and silence substitution, optionally resamples, and posts monotonically
// timestamped buffers to a consumer callback.
package capture
