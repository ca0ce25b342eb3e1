// Package metrics exposes Prometheus collectors for the HTTP surface, the
// answer pipeline and corpus ingestion.
package metrics

const namespace = "crag"
