// Package internaldefs holds the metric names, help strings and bucket bounds
// shared by the Prometheus and OTel exporters. OTel publishes one instrument per
// counter; Prometheus folds flow outcomes into labelled families.
package internaldefs
