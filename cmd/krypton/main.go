package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig = "config"
	flagImage  = "image"
	flagFormat = "format"
	flagModel  = "model"
	flagOutput = "output"
	flagNoTray = "no-tray"
	flagListen = "listen"
)

func main() {
	app := &cli.App{
		Name:  "krypton",
		Usage: "real-time YOLO object detection",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"KRYPTON_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start the detection server and tray",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagListen,
						Usage: "HTTP listen `ADDRESS`, overriding the configuration",
					},
					&cli.BoolFlag{
						Name:  flagNoTray,
						Usage: "run without the system tray",
					},
				},
				Action: runCommand,
			},
			{
				Name:  "detect",
				Usage: "run detection once on an image and export the results",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagImage,
						Usage:    "image `PATH`",
						Required: true,
					},
					&cli.StringFlag{
						Name:  flagFormat,
						Usage: "export format: JSON, CSV, TXT or YOLO",
						Value: "JSON",
					},
					&cli.StringFlag{
						Name:  flagModel,
						Usage: "model `ID`, overriding the configuration",
					},
					&cli.StringFlag{
						Name:  flagOutput,
						Usage: "export path stub without extension",
					},
				},
				Action: detectCommand,
			},
			{
				Name:   "devices",
				Usage:  "print the inference device and known models",
				Action: devicesCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("krypton: %v", err)
	}
}
