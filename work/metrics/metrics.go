package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AuthAttempts counts backend authentication attempts by kind and result.
// The "kind" label distinguishes full credential logins from lightweight
// session resumes; "result" is either "success" or "failure".
var AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "seriouscast_auth_attempts_total",
	Help: "Number of backend authentication attempts",
}, []string{"kind", "result"})

// SessionRenewals counts internally triggered re-authentications. The
// "trigger" label records what signalled the expiry: an application-level
// expiry code inside a 200 envelope, or an HTTP 403 on a playlist or
// segment fetch.
var SessionRenewals = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "seriouscast_session_renewals_total",
	Help: "Number of session renewals triggered by backend expiry signals",
}, []string{"trigger"})

// PlaylistFetches counts live playlist fetches per channel and result.
var PlaylistFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "seriouscast_playlist_fetches_total",
	Help: "Number of live playlist fetches against the backend",
}, []string{"channel", "result"})

// SegmentFetches counts audio segment fetches per channel and result.
var SegmentFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "seriouscast_segment_fetches_total",
	Help: "Number of audio segment fetches against the backend",
}, []string{"channel", "result"})

// ActiveListeners tracks the number of currently connected streaming
// clients per channel. Incremented when a relay pump starts and
// decremented when the client disconnects.
var ActiveListeners = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "seriouscast_active_listeners",
	Help: "Number of active listening clients",
}, []string{"channel"})

// BytesRelayed totals the audio bytes written to listening clients.
var BytesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "seriouscast_bytes_relayed_total",
	Help: "Total audio bytes relayed to listening clients",
}, []string{"channel"})
