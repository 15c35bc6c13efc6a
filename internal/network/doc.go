// Package network associates the tracker with its configured Wi-Fi network.
//
// A Machine tracks association through
//
//	idle → starting → connecting → {associated, retry_exhausted}
//
// re-issuing connect requests after disconnects until the retry bound is
// reached. Each attempt cycle resolves exactly once and callers block on
// the outcome with Wait or Associate, both of which honour a timeout and
// context cancellation.
//
// The radio itself sits behind the Station interface; see package wpa for
// the wpa_supplicant driver.
//
// Usage:
//
//	m, _ := network.NewMachine(station, network.Options{MaxRetries: 10})
//	if err := m.Associate(ctx, 2*time.Minute); err != nil {
//	    return err
//	}
package network
