package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/net/context"

	"github.com/hnakamur/ltsvlog"
	"github.com/krishnasharma0101/pycluster"
	"github.com/krishnasharma0101/pycluster/wire"
)

var addr = flag.String("addr", "", "listen address (default from config)")
var keyFile = flag.String("key-file", "", "encryption key file, created when missing")

func main() {
	flag.Parse()

	key, err := sessionKey(*keyFile)
	if err != nil {
		ltsvlog.Logger.Error(ltsvlog.LV{L: "msg", V: "failed to set up encryption key"},
			ltsvlog.LV{L: "key_file", V: *keyFile},
			ltsvlog.LV{L: "err", V: err})
		os.Exit(1)
	}

	cfg := pycluster.ConfigFromEnv()
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	hub, err := pycluster.NewHub(cfg, key, ltsvlog.Logger)
	if err != nil {
		ltsvlog.Logger.Error(ltsvlog.LV{L: "msg", V: "failed to create hub"},
			ltsvlog.LV{L: "err", V: err})
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("One-time password: %s\n", hub.OTP())
	ltsvlog.Logger.Info(ltsvlog.LV{L: "msg", V: "host starting"},
		ltsvlog.LV{L: "addr", V: cfg.ListenAddr})

	errC := make(chan error, 2)
	go func() {
		errC <- hub.Run(ctx)
	}()
	go func() {
		errC <- hub.ListenAndServe(ctx, cfg.ListenAddr)
	}()
	if err := <-errC; err != nil {
		ltsvlog.Logger.Error(ltsvlog.LV{L: "msg", V: "host exited with error"},
			ltsvlog.LV{L: "err", V: err})
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		cancel()
	}()
	return ctx, cancel
}

func sessionKey(path string) ([]byte, error) {
	if path == "" {
		return wire.GenerateKey()
	}
	if _, err := os.Stat(path); err == nil {
		return pycluster.LoadKeyFile(path)
	}
	key, err := wire.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := pycluster.SaveKeyFile(path, key); err != nil {
		return nil, err
	}
	ltsvlog.Logger.Info(ltsvlog.LV{L: "msg", V: "generated new encryption key"},
		ltsvlog.LV{L: "key_file", V: path})
	return key, nil
}
