package main

import (
	"flag"
	"os"
	"time"

	"github.com/SridarDhandapani/onvif"
	"github.com/SridarDhandapani/onvif/api"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		addr           string
		debug          bool
		insecure       bool
		httpDigest     bool
		requestTimeout time.Duration
		openTimeout    time.Duration
		sendTimeout    time.Duration
		receiveTimeout time.Duration
	)

	flag.StringVar(&addr, "listen", ":8080", "address the gateway listens on")
	flag.BoolVar(&debug, "debug", false, "log bootstrap steps")
	flag.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification towards cameras")
	flag.BoolVar(&httpDigest, "http-digest", false, "add HTTP digest authentication to camera calls")
	flag.DurationVar(&requestTimeout, "request-timeout", api.DefaultRequestTimeout, "deadline per gateway request")
	flag.DurationVar(&openTimeout, "open-timeout", 0, "camera connection timeout (0 keeps the default)")
	flag.DurationVar(&sendTimeout, "send-timeout", 0, "camera send timeout (0 keeps the default)")
	flag.DurationVar(&receiveTimeout, "receive-timeout", 0, "camera receive timeout (0 keeps the default)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	var binding onvif.BindingConfig
	if openTimeout > 0 {
		binding.OpenTimeout = onvif.Timeout(openTimeout)
	}
	if sendTimeout > 0 {
		binding.SendTimeout = onvif.Timeout(sendTimeout)
	}
	if receiveTimeout > 0 {
		binding.ReceiveTimeout = onvif.Timeout(receiveTimeout)
	}

	opts := []onvif.Option{
		onvif.WithBindingConfig(binding),
		onvif.WithLogger(log.Logger),
	}
	if insecure {
		opts = append(opts, onvif.WithInsecureTLS())
	}
	if httpDigest {
		opts = append(opts, onvif.WithHTTPDigest())
	}

	server := api.NewServer(onvif.NewBootstrapper(opts...), log.Logger)
	server.SetRequestTimeout(requestTimeout)

	log.Info().Str("listen", addr).Msg("starting ONVIF gateway")
	if err := server.Router().Run(addr); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}
