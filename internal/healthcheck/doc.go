// Package healthcheck watches the tunnel endpoint. It probes with a TCP
// dial, or an HTTP GET when a path is configured, and logs when the SSH
// tunnel or the local application behind it comes up or goes away.
package healthcheck
