// Package process supervises long-running helper daemons such as
// wpa_supplicant.
//
// A Manager starts the daemon in its own process group, forwards its
// output to the logger, optionally probes it for liveness, restarts it
// with exponential delays after unexpected exits, and stops it with
// SIGTERM followed by SIGKILL.
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:               "wpa_supplicant",
//	    Binary:             "/usr/sbin/wpa_supplicant",
//	    Args:               []string{"-i", "wlan0", "-c", "/etc/wpa_supplicant.conf"},
//	    RestartOnFailure:   true,
//	    RestartDelay:       5 * time.Second,
//	    MaxRestartAttempts: 10,
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
