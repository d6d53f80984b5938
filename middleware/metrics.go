// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "oidcrp"

// metrics of the login flow. Counter labels:
//   - oidcrp_logins_total{mode="interactive|silent"}
//   - oidcrp_callbacks_total{result="success|invalid_state|provider_error|error"}
//   - oidcrp_logouts_total{idp="true|false"}
//   - oidcrp_refreshes_total{result="success|error"}
//   - oidcrp_auth_failures_total{reason="unauthorized|forbidden"}
type metrics struct {
	logins       *prometheus.CounterVec
	callbacks    *prometheus.CounterVec
	logouts      *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	authFailures *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Total number of login transactions started",
		}, []string{"mode"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "callbacks_total",
			Help:      "Total number of provider callbacks handled by result",
		}, []string{"result"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logouts_total",
			Help:      "Total number of logouts, by whether the provider session was ended",
		}, []string{"idp"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refreshes_total",
			Help:      "Total number of token refreshes by result",
		}, []string{"result"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_failures_total",
			Help:      "Total number of requests rejected by an auth gate",
		}, []string{"reason"}),
	}
	if reg == nil {
		return m, nil
	}
	// Several middlewares may share a registerer, they then share counters.
	var err error
	if m.logins, err = register(reg, m.logins); err != nil {
		return nil, err
	}
	if m.callbacks, err = register(reg, m.callbacks); err != nil {
		return nil, err
	}
	if m.logouts, err = register(reg, m.logouts); err != nil {
		return nil, err
	}
	if m.refreshes, err = register(reg, m.refreshes); err != nil {
		return nil, err
	}
	if m.authFailures, err = register(reg, m.authFailures); err != nil {
		return nil, err
	}
	return m, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}
