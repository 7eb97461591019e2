//go:build !noprometheus

// prometheus.go - Broker Prometheus metrics.
// Copyright (C) 2026  David Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package instrument exports the broker's Prometheus metrics.
package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_rpc_requests_total",
			Help: "Number of RPC requests by operation and result",
		},
		[]string{"operation", "result"},
	)
	authTokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_auth_tokens_issued_total",
			Help: "Number of bearer tokens issued",
		},
	)
	connectTokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_connect_tokens_issued_total",
			Help: "Number of blind signatures issued by account level",
		},
		[]string{"level"},
	)
	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_rate_limited_total",
			Help: "Number of requests rejected by a rate limiter",
		},
		[]string{"limiter"},
	)
	catalogRebuilds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_catalog_rebuilds_total",
			Help: "Number of exit catalog rebuilds",
		},
	)
	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_registrations_total",
			Help: "Number of relay registrations by kind and result",
		},
		[]string{"kind", "result"},
	)
	routeConversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_route_conversions_total",
			Help: "Number of bridge to route conversions by result",
		},
		[]string{"result"},
	)
)

// RPCRequest counts an RPC request.
func RPCRequest(operation, result string) {
	rpcRequests.WithLabelValues(operation, result).Inc()
}

// AuthTokenIssued counts an issued bearer token.
func AuthTokenIssued() {
	authTokensIssued.Inc()
}

// ConnectTokenIssued counts an issued blind signature.
func ConnectTokenIssued(level string) {
	connectTokensIssued.WithLabelValues(level).Inc()
}

// RateLimited counts a rate limiter rejection.
func RateLimited(limiter string) {
	rateLimited.WithLabelValues(limiter).Inc()
}

// CatalogRebuild counts an exit catalog rebuild.
func CatalogRebuild() {
	catalogRebuilds.Inc()
}

// Registration counts a relay registration attempt.
func Registration(kind, result string) {
	registrations.WithLabelValues(kind, result).Inc()
}

// RouteConversion counts a bridge to route conversion attempt.
func RouteConversion(result string) {
	routeConversions.WithLabelValues(result).Inc()
}

// Handler returns the HTTP handler serving the metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	prometheus.MustRegister(
		rpcRequests,
		authTokensIssued,
		connectTokensIssued,
		rateLimited,
		catalogRebuilds,
		registrations,
		routeConversions,
	)
}
