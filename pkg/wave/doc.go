// ABOUTME: Package wave defines the audio data model
// ABOUTME: Wire format descriptors and timestamped sample buffers

// Package wave defines the data model shared by the capture and render
// engines: the Format wire descriptor and the Buffer type that crosses the
// callback boundary.
package wave
