/*
Package metrics exposes certdeploy's Prometheus metrics: queue depth, push
attempt outcomes, push duration, and update driver run outcomes (C13).

Metrics are package-level prometheus.Collectors registered at init time, the
way the pack's metrics packages do it. A metrics HTTP listener is optional —
Handler() is only wired up when the operator configures one; nothing in the
push engine, queue, or drivers depends on a listener being present.
*/
package metrics
