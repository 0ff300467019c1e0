// Command razermapperd is the HID macro daemon: it grabs input
// devices exclusively, matches macro triggers, and replays them
// through a synthesized virtual input device.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/razermapper/razermapperd/internal/daemon"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "/etc/razermapperd/config.yaml", "path to config.yaml")
	socketPath := flag.String("socket", "", "override daemon.socket_path from config")
	logLevel := flag.String("loglevel", "info", "log level (panic, fatal, error, warn, info, debug, trace)")
	display := flag.String("display", ":0", "DISPLAY value forwarded to Execute subprocesses")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "razermapperd: invalid -loglevel: %s\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	d, err := daemon.New(daemon.Options{
		ConfigPath: *configPath,
		SocketPath: *socketPath,
		Display:    *display,
	}, entry)
	if err != nil {
		entry.WithError(err).Error("startup failed")
		os.Exit(1)
	}

	d.Run()
}
