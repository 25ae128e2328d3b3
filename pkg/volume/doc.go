// ABOUTME: Package volume relays endpoint level and mute changes to observers
// ABOUTME: Suppresses echoes of app-initiated changes via correlation tokens
package volume
