// Package api serves the tracker's local HTTP status interface.
//
// Endpoints (all GET, JSON):
//
//	/api/v1/health               200 when associated and the broker session is up, else 503
//	/api/v1/status               association, uplink, producer and supplicant snapshot
//	/api/v1/deliveries           delivery journal page (result, since, limit, offset)
//	/api/v1/deliveries/summary   journal counts by result
//	/api/v1/metrics              Go runtime and database pool statistics
//
// The server is read-only. It never changes tracker state.
package api
