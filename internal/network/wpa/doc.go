// Package wpa drives wpa_supplicant for the association state machine.
//
// Driver implements network.Station over the supplicant control interface:
// Start adds and configures a network block, Connect selects or
// reassociates it, and a polling goroutine turns status samples into
// station events. Supplicant optionally runs wpa_supplicant itself under
// a process.Manager and probes it with ping.
package wpa
