package service

import "time"

// RecordInvocation counts a completed call in the domain's exported
// Prometheus collectors (and in the remote-call counter when remote is
// true). It does not touch the entry's rolling Metric, which
// Acknowledge updates, and duration is not recorded. With no registry
// it does nothing.
func (d *Directory) RecordInvocation(serviceName string, duration time.Duration, remote bool) {
	if d.metrics == nil {
		return
	}
	d.metrics.ServiceInvocations.WithLabelValues(serviceName).Inc()
	if remote {
		d.metrics.ServiceRemoteCalls.WithLabelValues(serviceName).Inc()
	}
}

// RecordPendingWait records how long a caller waited on a pending
// lookup before it resolved (reserved, timed out, or answered
// absent), for the ServicePendingWait histogram.
func (d *Directory) RecordPendingWait(serviceName string, wait time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.ServicePendingWait.WithLabelValues(serviceName).Observe(wait.Seconds())
}
