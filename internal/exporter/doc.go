// Package exporter serves blind and gateway state as Prometheus metrics.
//
// The exporter is scrape-driven: each Prometheus scrape refreshes gateway
// state over the radio and re-reads every blind from the gateway cache,
// so metric freshness follows the scrape interval. Refreshes are bounded
// by the configured scrape timeout; a slow or absent gateway costs at
// most that long and is reported through motionlan_gateway_up and
// motionlan_collect_errors_total rather than failing the scrape.
//
// Run the exporter and the bridge against the same gateway sparingly.
// Both are polite clients, but the gateway firmware serves one UDP
// request at a time and long scrape intervals keep it happiest.
package exporter
