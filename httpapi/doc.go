// Package httpapi provides the REST transport of the script engine.
//
// Routes:
//
//	GET  /runner?code=..&args=..&timeout=..  run a function, query form
//	POST /runner                             run a function, JSON body {"code","args","timeout_ms"}
//	GET  /healthz                            liveness
//	GET  /metrics                            Prometheus metrics
//
// A successful run answers 200 with the output as text/plain. Failures answer
// a JSON body {"error","kind"} with 504 for timeouts, 503 when every worker is
// busy, 507 for heap limit breaches, 500 for internal errors and 400
// otherwise.
package httpapi
