////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpdatesApplied counts applied server updates by kind.
	UpdatesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "updates_applied_total",
			Help:      "Server updates applied, by kind.",
		},
		[]string{"kind"},
	)

	// UpdatesDeferred counts updates buffered while their dialog reloads.
	UpdatesDeferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "updates_deferred_total",
			Help:      "Updates buffered until their dialog was reloaded.",
		},
	)

	// DialogReloads counts dialog reloads by result.
	DialogReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "dialog_reloads_total",
			Help:      "Dialog reloads triggered by consistency faults.",
		},
		[]string{"result"},
	)

	// PendingSends is the number of sends awaiting confirmation.
	PendingSends = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "pending_sends",
			Help:      "Sends not yet confirmed by the server.",
		},
	)

	// Sends counts finished sends by outcome.
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "sends_total",
			Help:      "Send attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// HistoryRequests counts history page requests by kind.
	HistoryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "history_requests_total",
			Help:      "History page requests, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(UpdatesApplied)
	prometheus.MustRegister(UpdatesDeferred)
	prometheus.MustRegister(DialogReloads)
	prometheus.MustRegister(PendingSends)
	prometheus.MustRegister(Sends)
	prometheus.MustRegister(HistoryRequests)
}

// Handler serves the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
