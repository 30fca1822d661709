// Copyright 2018 PingCAP, Inc.
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

package prop

// Properties
const (
	Workload        = "workload"
	WorkloadDefault = "counter"

	ThreadCount           = "threadcount"
	ThreadCountDefault    = int64(16)
	RefCount              = "refcount"
	RefCountDefault       = int64(100)
	OperationCount        = "operationcount"
	OperationCountDefault = int64(100000)
	// Operations per second over all threads, 0 means unlimited.
	Target = "target"

	// "uniform", "zipfian", "hotspot"
	RequestDistribution        = "requestdistribution"
	RequestDistributionDefault = "uniform"
	ZipfianConstant            = "zipfianconstant"
	HotspotDataFraction        = "hotspotdatafraction"
	HotspotDataFractionDefault = float64(0.2)
	HotspotOpnFraction         = "hotspotopnfraction"
	HotspotOpnFractionDefault  = float64(0.8)

	// Number of refs a bank transfer or an ensure operation touches.
	RefsPerOperation        = "refsperoperation"
	RefsPerOperationDefault = int64(2)
	// Initial balance of every account of the bank workload.
	InitialBalance        = "bank.initialbalance"
	InitialBalanceDefault = int64(1000)
	// Fraction of the ensure workload's operations which only read and
	// ensure, the rest write.
	EnsureProportion        = "ensure.proportion"
	EnsureProportionDefault = float64(0.5)

	MetricsAddr = "metrics.addr"
	// Seconds between two intermediate summaries.
	LogInterval        = "measurement.interval"
	LogIntervalDefault = int64(10)

	OutputStyle    = "outputstyle"
	Silence        = "silence"
	SilenceDefault = true
)
