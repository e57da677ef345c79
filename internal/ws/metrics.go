package ws

import "expvar"

var (
	metricConnectionsTotal  = expvar.NewInt("ws_connections_total")
	metricConnectionsActive = expvar.NewInt("ws_connections_active")
	metricAuthRejects       = expvar.NewInt("ws_auth_rejects_total")
	metricFramesDropped     = expvar.NewInt("ws_frames_dropped_total")
)
