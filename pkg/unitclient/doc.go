/*
Package unitclient issues single HTTP calls against a worker's
WorkerAPI: resolve a pioreactor_unit name to a base URL, then GET, POST,
PATCH, or DELETE a /unit_api path with an optional JSON body, query
params, and a per-call timeout.

There is no retry logic anywhere in this package: a caller
that wants retries (e.g. pkg/orchestrator re-sending a command directly
after a failed bus publish) implements that itself. This package is the last hop before
the wire, not a resilience layer.

Resolve defaults to the http://<unit>.local:<port> convention; an
explicit override (keyed by unit name) takes precedence, mirroring the
leader's config.ini [network.peers] section.

Non-2xx responses return *HTTPError rather than decoding a response
body, so callers can type-assert on it to build the envelope returned
by pkg/apierror.
*/
package unitclient
