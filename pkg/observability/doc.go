// Package observability provides structured JSON logging, Prometheus
// metrics, and health probes for the registry service. The resolver and
// guard hot paths record their decisions here; handlers log mutations.
package observability
