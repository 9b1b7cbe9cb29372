package main

import (
	"os"

	upsmonitor "github.com/TheCacophonyProject/ups-battery-monitor/internal/ups-battery-monitor"
	"github.com/TheCacophonyProject/ups-battery-monitor/logging"
)

var version = "<not set>"

func main() {
	if err := upsmonitor.Run(os.Args[1:], version); err != nil {
		logging.NewLogger("info").Fatal(err)
	}
}
