// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package clock

import "github.com/prometheus/client_golang/prometheus"

var (
	clockCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyclj",
			Subsystem: "stm_clock",
			Name:      "events",
			Help:      "Counter of clock events",
		}, []string{"type"})

	clockGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinyclj",
			Subsystem: "stm_clock",
			Name:      "point",
			Help:      "Record of the last issued clock point.",
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(clockCounter)
	prometheus.MustRegister(clockGauge)
}
