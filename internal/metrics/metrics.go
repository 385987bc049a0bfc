// Package metrics exposes prometheus collectors for the connection
// registry, channel engine, and federation link manager.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "icd"

// Registry is the prometheus registry all collectors in this package
// register against. Handler() serves it over HTTP.
var Registry = prometheus.NewRegistry()
