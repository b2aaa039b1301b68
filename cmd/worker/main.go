package main

import (
	"encoding/json"
	"flag"
	"os"
	"os/signal"

	"golang.org/x/net/context"

	"github.com/hnakamur/ltsvlog"
	"github.com/krishnasharma0101/pycluster"
	"github.com/krishnasharma0101/pycluster/worker"
)

var addr = flag.String("addr", "localhost:8888", "dispatcher address")
var workerID = flag.String("id", "", "worker ID (default: hostname)")
var otp = flag.String("otp", "", "one-time password printed by the host")
var keyFile = flag.String("key-file", "", "encryption key file shared with the host")

func main() {
	flag.Parse()
	if *otp == "" {
		ltsvlog.Logger.Error(ltsvlog.LV{L: "msg", V: "otp must not be empty"})
		os.Exit(1)
	}
	if *keyFile == "" {
		ltsvlog.Logger.Error(ltsvlog.LV{L: "msg", V: "key-file must not be empty"})
		os.Exit(1)
	}
	key, err := pycluster.LoadKeyFile(*keyFile)
	if err != nil {
		ltsvlog.Logger.Error(ltsvlog.LV{L: "msg", V: "failed to load key file"},
			ltsvlog.LV{L: "key_file", V: *keyFile},
			ltsvlog.LV{L: "err", V: err})
		os.Exit(1)
	}

	id := *workerID
	if id == "" {
		hostname, err := os.Hostname()
		if err != nil {
			ltsvlog.Logger.Error(ltsvlog.LV{L: "msg", V: "failed to determine hostname"},
				ltsvlog.LV{L: "err", V: err})
			os.Exit(1)
		}
		id = hostname
	}

	cfg := pycluster.ConfigFromEnv()
	w := worker.New(worker.Config{
		Addr:              *addr,
		WorkerID:          id,
		OTP:               *otp,
		Key:               key,
		HeartbeatInterval: cfg.HeartbeatInterval,
		DialTimeout:       cfg.ConnectTimeout,
		SendQueueLength:   cfg.SendQueueLength,
	}, ltsvlog.Logger)

	w.Register("echo", func(args json.RawMessage) (interface{}, error) {
		var v interface{}
		if err := json.Unmarshal(args, &v); err != nil {
			return nil, err
		}
		return v, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		cancel()
	}()

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		ltsvlog.Logger.Error(ltsvlog.LV{L: "msg", V: "worker exited with error"},
			ltsvlog.LV{L: "err", V: err})
		os.Exit(1)
	}
}
