package fsm

import (
	"errors"

	"github.com/visuvia/mctp-controller/internal/metrics"
)

// Sentinel errors wrapped for classification via errors.Is, mirroring the
// teacher's internal/server error set.
var (
	ErrTransportClosed = errors.New("fsm: transport closed")
	ErrSyncTimeout     = errors.New("fsm: sync_loop deadline exceeded")
	ErrSyncAborted     = errors.New("fsm: sync_loop pre-empted by a Drop order")
	ErrAlreadyRunning  = errors.New("fsm: already running")
	ErrOrderRejected   = errors.New("fsm: order not valid in current state")
)

// mapErrToMetric maps wrapped sentinel errors to metrics label values, the
// same role internal/server's mapErrToMetric plays for the TCP server.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrTransportClosed):
		return metrics.ErrTransportClosed
	case errors.Is(err, ErrSyncTimeout):
		return metrics.ErrSyncTimeout
	case errors.Is(err, ErrSyncAborted):
		return metrics.ErrTransportRead
	case errors.Is(err, ErrOrderRejected):
		return metrics.ErrOrderRejected
	default:
		return "other"
	}
}
