package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

const version = "0.3.0"

var configFlag = cli.StringFlag{
	Name:  "config, c",
	Usage: "Load configuration from `FILE`",
	Value: "config.yaml",
}

func main() {
	app := cli.NewApp()
	app.Name = "traffic_visor"
	app.Usage = "Watch live traffic and flag anomalous connections"
	app.Version = version
	app.Commands = commands()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commands() []cli.Command {
	return []cli.Command{
		{
			Name:   "run",
			Usage:  "Capture traffic and serve the streaming API",
			Flags:  []cli.Flag{configFlag},
			Action: runCommand,
		},
		{
			Name:      "replay",
			Usage:     "Replay a pcap file through the detector and write batches to the output file",
			ArgsUsage: "<file.pcap>",
			Flags:     []cli.Flag{configFlag},
			Action:    replayCommand,
		},
		{
			Name:   "rules",
			Usage:  "Print the effective detection rules",
			Flags:  []cli.Flag{configFlag},
			Action: rulesCommand,
		},
	}
}
