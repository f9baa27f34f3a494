package main

import (
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/SridarDhandapani/onvif/internal/devicesim"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		addr     string
		username string
		password string
		offset   time.Duration
		window   time.Duration
		services string
	)

	flag.StringVar(&addr, "listen", ":8000", "address the simulated device listens on")
	flag.StringVar(&username, "user", "admin", "device username (empty disables authentication)")
	flag.StringVar(&password, "pass", "admin", "device password")
	flag.DurationVar(&offset, "clock-offset", 0, "offset of the device clock from the host clock")
	flag.DurationVar(&window, "window", devicesim.DefaultAcceptanceWindow, "accepted skew of Created timestamps")
	flag.StringVar(&services, "services", "Media,PTZ,Imaging", "comma separated capabilities to advertise")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	gin.SetMode(gin.ReleaseMode)

	var advertised []string
	for _, s := range strings.Split(services, ",") {
		if s = strings.TrimSpace(s); s != "" {
			advertised = append(advertised, s)
		}
	}

	device := devicesim.New(devicesim.Config{
		Username:         username,
		Password:         password,
		ClockOffset:      offset,
		AcceptanceWindow: window,
		Services:         advertised,
	})

	log.Info().
		Str("listen", addr).
		Str("serial", device.SerialNumber()).
		Dur("clock_offset", offset).
		Strs("services", advertised).
		Msg("simulated ONVIF device ready")

	if err := http.ListenAndServe(addr, device.Handler()); err != nil {
		log.Fatal().Err(err).Msg("device stopped")
	}
}
