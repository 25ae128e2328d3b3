// ABOUTME: Package render plays audio to an output endpoint
// ABOUTME: A ring-fed worker pulls, resamples, applies gain, and writes to the device
package render
