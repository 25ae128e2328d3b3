// ABOUTME: Package resample converts audio between wire formats mid-stream
// ABOUTME: Staging-buffer transform with timestamp carry-through

// Package resample implements the resampling transform used when format
// negotiation leaves a gap between the device format and the desired wire
// format. Conversion covers sample encoding (16/24/32-bit integer and
// 32-bit float), mono/stereo remixing, and sample rate change.
package resample
