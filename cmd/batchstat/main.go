// batchstat populates a world on the CPU-only device and reports how its
// items were batched and drawn.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "batchstat"
	app.Usage = "world batching inspector"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "log at debug level",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "stats",
			Usage: "render frames headless and print bucket statistics",
			Description: `
Populate the scene (the built-in world when no file is given) on the
CPU-only device, render a few frames from a camera fitted to the world and
print per-bucket counters and the draws recorded for the last frame.`,
			ArgsUsage: "[scene.yaml]",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "frames",
					Value: 3,
					Usage: "frames to render",
				},
				cli.IntFlag{
					Name:  "capacity",
					Usage: "instances per bucket (0 = config default)",
				},
				cli.IntFlag{
					Name:  "in-flight",
					Usage: "frames in flight (0 = config default)",
				},
				cli.BoolFlag{
					Name:  "ray-query",
					Usage: "build the TLAS and enable ray queries",
				},
			},
			Action: cmdStats,
		},
		{
			Name:      "check",
			Usage:     "validate a scene description",
			ArgsUsage: "scene.yaml",
			Action:    cmdCheck,
		},
	}
	return app
}
