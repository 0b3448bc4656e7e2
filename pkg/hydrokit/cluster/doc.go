// Package cluster runs hydrokit as one primary process and a pool of worker
// processes sharing a listening socket.
//
// The primary expands add-on packages, binds the socket and re-executes its
// own binary with the worker command once per worker id, passing the socket
// as an inherited file and the id, pool size and queue path in the
// environment. A worker that exits on its own is restarted with the same
// id. In development the primary also watches the package roots and
// restarts the pool when they change.
//
// Each worker builds a hydrokit.Kernel, loads add-ons and serves a small
// admin surface on the shared socket: /healthz, /status, POST /bus/<event>
// and /metrics.
package cluster
