// Package backend models the loopback tunnel endpoint the relay forwards to.
// The address is fixed at construction; health, in-flight exchanges and
// response time are observations that never gate forwarding.
package backend
