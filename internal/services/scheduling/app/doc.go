// Package app wires the scheduling stores, repositories, publisher and
// projection workers into a runnable process and serves gRPC health checks.
package app
