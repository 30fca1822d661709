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

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinyclj/tinyclj/bench/pkg/client"
	"github.com/tinyclj/tinyclj/bench/pkg/measurement"
	"github.com/tinyclj/tinyclj/bench/pkg/prop"
	"github.com/tinyclj/tinyclj/bench/pkg/workload"
	"github.com/tinyclj/tinyclj/log"
)

// Set when the workload's invariant did not hold after the run.
var verifyFailed bool

func runClientCommandFunc(cmd *cobra.Command, args []string) {
	initialGlobal(func() {
		flags := cmd.Flags()
		if flags.Changed("workload") {
			globalProps.Set(prop.Workload, workloadArg)
		}
		if flags.Changed("threads") {
			// We set the threadArg via command line.
			globalProps.Set(prop.ThreadCount, strconv.Itoa(threadsArg))
		}
		if flags.Changed("refs") {
			globalProps.Set(prop.RefCount, strconv.Itoa(refsArg))
		}
		if flags.Changed("operations") {
			globalProps.Set(prop.OperationCount, strconv.Itoa(operationsArg))
		}
		if flags.Changed("distribution") {
			globalProps.Set(prop.RequestDistribution, distributionArg)
		}
		if flags.Changed("target") {
			globalProps.Set(prop.Target, strconv.Itoa(targetArg))
		}
		if flags.Changed("interval") {
			globalProps.Set(prop.LogInterval, strconv.Itoa(reportInterval))
		}
		if flags.Changed("metrics-addr") {
			globalProps.Set(prop.MetricsAddr, metricsAddrArg)
		}
	})

	fmt.Println("***************** properties *****************")
	for key, value := range globalProps.Map() {
		fmt.Printf("\"%s\"=\"%s\"\n", key, value)
	}
	fmt.Println("**********************************************")

	measurer, err := measurement.NewMeasurer(globalProps.GetString(prop.OutputStyle, measurement.OutputStylePlain))
	if err != nil {
		log.Fatalf("%v", err)
	}

	start := time.Now()
	if err := globalWorkload.Load(globalContext); err != nil {
		log.Fatalf("load workload failed %+v", err)
	}
	fmt.Printf("Load finished, takes %s\n", time.Since(start))

	c := client.NewClient(globalProps, globalWorkload, measurer)
	start = time.Now()
	if err := c.Run(globalContext, os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Printf("Run finished, takes %s\n", time.Since(start))
	if err := measurer.Output(os.Stdout); err != nil {
		log.Warnf("output measurements failed %v", err)
	}

	s := globalEngine.Stats()
	fmt.Printf("Engine - Attempts: %d, Commits: %d, Aborts: %d, Failures: %d, Barges: %d, HistoryFaults: %d\n",
		s.Attempts, s.Commits, s.Aborts, s.Failures, s.Barges, s.HistoryFaults)
	for reason, n := range s.Retries {
		if n > 0 {
			fmt.Printf("Retries - %s: %d\n", reason, n)
		}
	}
	if summary, err := c.Attempts(); err == nil {
		fmt.Println(summary)
	}
	fmt.Printf("Errors: %d\n", c.Errors())

	// An interrupted run leaves the workload consistent but short of
	// operations, so it is still checked.
	if err := globalWorkload.Verify(globalContext); err != nil {
		log.Errorf("verify failed: %v", err)
		verifyFailed = true
		return
	}
	fmt.Println("Verify OK")
}

func runWorkloadsCommandFunc(cmd *cobra.Command, args []string) {
	for _, name := range workload.Names() {
		fmt.Println(name)
	}
}

var (
	workloadArg     string
	threadsArg      int
	refsArg         int
	operationsArg   int
	distributionArg string
	targetArg       int
	reportInterval  int
	metricsAddrArg  string
)

func initClientCommand(m *cobra.Command) {
	m.Flags().StringSliceVarP(&propertyFiles, "property_file", "P", nil, "Spefify a property file")
	m.Flags().StringArrayVarP(&propertyValues, "prop", "p", nil, "Specify a property value with name=value")
	m.Flags().StringVar(&workloadArg, "workload", prop.WorkloadDefault, "Workload to run - can also be specified as the \"workload\" property")
	m.Flags().IntVar(&threadsArg, "threads", 1, "Execute using n threads - can also be specified as the \"threadcount\" property")
	m.Flags().IntVar(&refsArg, "refs", int(prop.RefCountDefault), "Number of refs - can also be specified as the \"refcount\" property")
	m.Flags().IntVar(&operationsArg, "operations", int(prop.OperationCountDefault), "Number of operations - can also be specified as the \"operationcount\" property")
	m.Flags().StringVar(&distributionArg, "distribution", prop.RequestDistributionDefault, "uniform, zipfian or hotspot - can also be specified as the \"requestdistribution\" property")
	m.Flags().IntVar(&targetArg, "target", 0, "Attempt to do n operations per second (default: unlimited) - can also be specified as the \"target\" property")
	m.Flags().IntVar(&reportInterval, "interval", 10, "Interval of outputting measurements in seconds")
	m.Flags().StringVar(&metricsAddrArg, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func newRunCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "run",
		Short: "Load the refs and run the workload",
		Args:  cobra.NoArgs,
		Run:   runClientCommandFunc,
	}

	initClientCommand(m)
	return m
}

func newWorkloadsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "workloads",
		Short: "List the workloads",
		Args:  cobra.NoArgs,
		Run:   runWorkloadsCommandFunc,
	}
}
