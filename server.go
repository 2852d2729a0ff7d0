package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gologme/log"

	"udpmeter/pkg/metrics"
	"udpmeter/pkg/packet"
	"udpmeter/pkg/rt"
	"udpmeter/pkg/server"
)

func serveMain(conf Config, logger *log.Logger) error {
	logger.Debugln("running config:\n" + conf.dumps())
	rt.Harden(logger)

	srv := server.New(server.Config{
		Network:    conf.Network,
		Bind:       conf.Endpoint,
		BufferSize: conf.BufferSize,
		Echo:       conf.AllowEcho,
	}, logger)

	if err := srv.Start(); err != nil {
		return err
	}

	if conf.MetricsAddr != "" {
		m := metrics.Serve(conf.MetricsAddr, func() string { return srv.Status().String() }, logger)
		defer m.Close()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Infoln("terminating...")
		srv.Stop()
	}()

	w := bufio.NewWriter(os.Stdout)
	fmt.Fprintln(w, packet.TSVHeader)
	for r := range srv.Records() {
		fmt.Fprintln(w, r.TSV())
	}
	if err := w.Flush(); err != nil {
		return err
	}
	srv.Join()
	return nil
}
