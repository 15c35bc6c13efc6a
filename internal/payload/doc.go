// Package payload produces the tracker's telemetry messages.
//
// Each message is a JSON object carrying the device id, a ten-digit hex
// reading (latitude, longitude, battery) and the local date and time:
//
//	{"id":"24:0A:C4:12:34:56","payload":"7FFF80001A","date":"2026-10-19","time":"14:03:27"}
//
// A Producer emits one message per interval into an Enqueuer, normally
// the uplink.
package payload
