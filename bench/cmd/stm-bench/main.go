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
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/magiconair/properties"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tinyclj/tinyclj/bench/pkg/prop"
	"github.com/tinyclj/tinyclj/bench/pkg/workload"
	"github.com/tinyclj/tinyclj/log"
	"github.com/tinyclj/tinyclj/rt/config"
	"github.com/tinyclj/tinyclj/rt/stm"
)

var (
	propertyFiles  []string
	propertyValues []string
	configPath     string
	logLevel       string

	globalContext context.Context
	globalCancel  context.CancelFunc

	globalEngine   *stm.Engine
	globalWorkload workload.Workload
	globalProps    *properties.Properties
)

func initialGlobal(onProperties func()) {
	globalProps = properties.NewProperties()
	if len(propertyFiles) > 0 {
		globalProps = properties.MustLoadFiles(propertyFiles, properties.UTF8, false)
	}

	for _, p := range propertyValues {
		seps := strings.SplitN(p, "=", 2)
		if len(seps) != 2 {
			log.Fatalf("bad property: `%s`, expected format `name=value`", p)
		}
		if _, _, err := globalProps.Set(seps[0], seps[1]); err != nil {
			log.Fatalf("bad property: `%s`: %v", p, err)
		}
	}

	if onProperties != nil {
		onProperties()
	}

	conf := config.NewDefaultConfig()
	if len(configPath) > 0 {
		var err error
		if conf, err = config.LoadFile(configPath); err != nil {
			log.Fatalf("%+v", err)
		}
	}
	if len(logLevel) > 0 {
		conf.LogLevel = logLevel
	}
	log.Init(conf.LogLevel, conf.LogFile)
	log.Infof("conf %+v", conf)

	if addr := globalProps.GetString(prop.MetricsAddr, ""); len(addr) > 0 {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Warnf("metrics server on %s stopped: %v", addr, err)
			}
		}()
	}

	var err error
	if globalEngine, err = stm.NewEngine(conf); err != nil {
		log.Fatalf("create engine failed %+v", err)
	}
	if globalWorkload, err = workload.Create(globalProps, globalEngine); err != nil {
		log.Fatalf("create workload failed %v", err)
	}
}

func main() {
	globalContext, globalCancel = context.WithCancel(context.Background())

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	closeDone := make(chan struct{}, 1)
	go func() {
		sig := <-sc
		fmt.Printf("\nGot signal [%v] to exit.\n", sig)
		globalCancel()

		select {
		case <-sc:
			// send signal again, return directly
			fmt.Printf("\nGot signal [%v] again to exit.\n", sig)
			os.Exit(1)
		case <-time.After(10 * time.Second):
			fmt.Print("\nWait 10s for closed, force exit\n")
			os.Exit(1)
		case <-closeDone:
			return
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "stm-bench",
		Short: "Contention benchmark of the tinyclj STM",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Engine config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overrides the config file")

	rootCmd.AddCommand(
		newRunCommand(),
		newWorkloadsCommand(),
	)

	cobra.EnablePrefixMatching = true

	code := 0
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(rootCmd.UsageString())
		code = 1
	}
	if verifyFailed {
		code = 2
	}

	globalCancel()
	if globalWorkload != nil {
		if err := globalWorkload.Close(); err != nil {
			log.Warnf("close workload failed %v", err)
		}
	}
	_ = log.Sync()

	closeDone <- struct{}{}
	os.Exit(code)
}
