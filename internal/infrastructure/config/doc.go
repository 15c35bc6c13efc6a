// Package config loads the tracker configuration.
//
// Values are resolved in order: factory defaults (the firmware's SSID,
// passphrase, retry bound and public broker), the YAML file, then
// TRACKER_* environment variables. Validate reports every bad field in
// one error.
//
// Durations are stored in the unit named in each field's comment and
// converted by the Get*Timeout and Get*Interval helpers.
//
// Keep the file at 0600 or pass the Wi-Fi passphrase and broker
// credentials through TRACKER_NETWORK_PASSWORD and TRACKER_MQTT_PASSWORD.
package config
