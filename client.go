package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gologme/log"

	"udpmeter/pkg/client"
	"udpmeter/pkg/gen"
	"udpmeter/pkg/metrics"
	"udpmeter/pkg/packet"
	"udpmeter/pkg/rt"
	"udpmeter/pkg/stats"
)

// rttWindow is how many of the latest echo round trips feed the live
// summary.
const rttWindow = 1000

func clientMain(conf Config, logger *log.Logger) error {
	src, err := gen.New(conf.Generator, gen.Options(conf.Options))
	if err != nil {
		return err
	}

	rt.Harden(logger)
	minor0, major0, faultErr := rt.PageFaults()

	c := client.New(client.Config{
		Network:    conf.Network,
		Server:     conf.Endpoint,
		BufferSize: conf.BufferSize,
		Echo:       conf.Echo,
		QueueDepth: conf.QueueDepth,
	}, logger)

	if err := c.Start(); err != nil {
		return err
	}

	if conf.MetricsAddr != "" {
		m := metrics.Serve(conf.MetricsAddr, func() string { return "running" }, logger)
		defer m.Close()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Infoln("terminating...")
		c.Close()
	}()

	go func() {
		if err := c.Run(src); err != nil {
			logger.Errorln("feed:", err)
			c.Close()
		}
	}()

	// drain the echo record stream; with echo off it is already closed
	w := bufio.NewWriter(os.Stdout)
	rtt := stats.New[int64](rttWindow)
	if conf.Echo {
		fmt.Fprintln(w, packet.TSVHeader)
	}
	for r := range c.Records() {
		fmt.Fprintln(w, r.TSV())
		rtt.Push(int64(r.ReceiveTime - r.Timestamp))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	err = c.Join()
	logger.Infoln("sent", c.Sent(), "packets")
	if minor, major, e := rt.PageFaults(); e == nil && faultErr == nil {
		logger.Infoln("page faults during run: minor", minor-minor0, "major", major-major0)
	}
	if rtt.Len() > 0 {
		logger.Infof("echo round trip over last %d packets: mean %v stddev %v",
			rtt.Len(), time.Duration(rtt.Mean()), time.Duration(rtt.StdDev()))
	}
	return err
}
