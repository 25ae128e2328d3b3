// ABOUTME: Package bridge carries live audio across the process boundary
// ABOUTME: Adapter ownership rules, WebSocket fan-out, Opus, and mDNS discovery
package bridge
