// Package api exposes the operator surface of the hiring daemon over HTTP:
// agent selection, the hire trigger, orchestrator state, the notification
// feed with its websocket stream, the attempt journal and Prometheus metrics.
package api
