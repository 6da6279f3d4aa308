package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"ddfsnode/internal/config"
	"ddfsnode/internal/coordinator"
	"ddfsnode/internal/layout"
)

var (
	configPath = kingpin.Flag("config", "config file full name").Default("../config/ddfsnode.json").String()
	debug      = kingpin.Flag("debug", "use debug level of logging").Default("false").Bool()
)

func main() {
	kingpin.Parse()
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debug("Log level set to debug")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Load config file failed")
	}

	type result struct {
		node *coordinator.Node
		err  error
	}
	started := make(chan result, 1)
	go func() {
		n, err := coordinator.New(coordinator.Config{
			NodeName:     cfg.NodeName,
			DDFSRoot:     cfg.DDFSRoot,
			PutMax:       cfg.PutMax,
			GetMax:       cfg.GetMax,
			QueueLength:  cfg.HTTPQueueLength,
			DiskInterval: cfg.DiskInterval,
			TagInterval:  cfg.TagInterval,
		}, layout.NewDiskSpacer())
		started <- result{n, err}
	}()

	startupBound := cfg.NodeStartup
	if startupBound <= 0 {
		startupBound = 30 * time.Second
	}
	var node *coordinator.Node
	select {
	case r := <-started:
		if r.err != nil {
			logrus.WithError(r.err).Fatal("Start coordinator failed")
		}
		node = r.node
	case <-time.After(startupBound):
		logrus.WithField("bound", startupBound).Fatal("Node startup exceeded NODE_STARTUP bound")
	}
	defer node.Close()

	logrus.WithField("node", cfg.NodeName).WithField("root", cfg.DDFSRoot).Info("Node started")

	// The put/get HTTP listener processes that actually stream blob
	// bytes are external collaborators (out of scope here); this process
	// only needs to keep the coordinator and its monitors alive until
	// told to stop.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logrus.Info("Shutting down")
}
