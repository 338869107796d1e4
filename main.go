// voicebridge bridges Asterisk AudioSocket audio streams to a cloud
// voicebot's WebSocket media protocol and exposes a small management
// HTTP API for call control.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/square-key-labs/voicebridge/src/ami"
	"github.com/square-key-labs/voicebridge/src/api"
	"github.com/square-key-labs/voicebridge/src/bridge"
	"github.com/square-key-labs/voicebridge/src/config"
	"github.com/square-key-labs/voicebridge/src/logger"
	"github.com/square-key-labs/voicebridge/src/registry"
)

func main() {
	logger.Init()
	cfg := config.Load()

	// The AMI client keeps reconnecting in the background; a switch
	// that is down at boot is not fatal.
	amiClient := ami.NewClient(cfg.AMIHost, cfg.AMIPort, cfg.AMIUsername, cfg.AMIPassword)
	go amiClient.Run()
	defer amiClient.Close()

	reg := registry.New()

	bridgeServer := bridge.NewServer(cfg, reg, amiClient)
	if err := bridgeServer.Start(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	defer bridgeServer.Stop()

	apiServer := api.NewServer(cfg.MiddlewarePort, amiClient, reg)
	apiServer.Start()
	defer apiServer.Stop()

	logger.Info("using voicebot webhook: %s", cfg.WebhookURL)
	logger.Info("ready to handle calls")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("%s received, shutting down", sig)
}
