// Package capture drives one capture session for the daemon.
//
// A Runner opens the configured device, commits the requested format,
// applies controls and keeps frames flowing until its context ends. It
// owns the session exclusively: configuration reloads, hotplug removals
// and shutdown all reach the capture goroutine through channels, and
// everything the runner observes leaves through the event bus.
//
// Lifecycle:
//
//	idle -> opening -> streaming -> (reload | device lost | error) -> opening ...
//	                            \-> stopped on shutdown or frame limit
package capture
