package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveRelays tracks listeners currently attached to a relayed stream, by transport path.
var ActiveRelays = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "radio_relay_active_relays",
	Help: "Number of listeners currently receiving a relayed stream",
}, []string{"path"})

// BytesRelayed counts audio bytes forwarded to listeners, by transport path.
var BytesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "radio_relay_bytes_relayed_total",
	Help: "Total audio bytes forwarded to listeners",
}, []string{"path"})

// RelayErrors counts relay failures; "reason" is one of invalid_input, upstream, fallback, copy.
var RelayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "radio_relay_errors_total",
	Help: "Number of relay failures",
}, []string{"reason"})

// RelayFallbacks counts switches from the HTTP client path to the raw socket path.
var RelayFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "radio_relay_socket_fallbacks_total",
	Help: "Number of relays served by the raw socket fallback",
})

// DirectoryRequests counts requests sent to directory servers by outcome (ok, status, transport).
var DirectoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "radio_relay_directory_requests_total",
	Help: "Requests sent to directory servers",
}, []string{"outcome"})

// QueryCacheLookups counts query cache lookups by result (hit, miss).
var QueryCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "radio_relay_query_cache_lookups_total",
	Help: "Directory query cache lookups",
}, []string{"result"})

// DiscoveryRefreshes counts server pool refreshes by outcome (srv, fallback).
var DiscoveryRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "radio_relay_discovery_refreshes_total",
	Help: "Directory server pool refresh attempts",
}, []string{"outcome"})

// MetadataHarvests counts ICY harvests by outcome (title, undefined, cached, error).
var MetadataHarvests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "radio_relay_metadata_harvests_total",
	Help: "ICY metadata harvest attempts",
}, []string{"outcome"})

// WatchdogRestarts counts playback restarts issued by the player watchdog.
var WatchdogRestarts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "radio_relay_watchdog_restarts_total",
	Help: "Playback restarts issued by the watchdog",
})

// PlayerCommandErrors counts failed remote player commands by command name.
var PlayerCommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "radio_relay_player_command_errors_total",
	Help: "Failed remote player commands",
}, []string{"command"})
