// hap-accessory runs a HAP-BLE light bulb accessory over a TCP GATT
// carrier.
//
// Usage:
//
//	hap-accessory [--config FILE] <command>
//
// Commands:
//
//	keygen       create the accessory long-term key
//	run          serve the accessory until interrupted
//	selftest     pair, verify and resume against an in-process accessory
//	bump-config  advance the configuration number after changing services
//
// Example:
//
//	hap-accessory keygen --out accessory.key
//	hap-accessory --config lamp.yaml run
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"
)

func newApp(stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "hap-accessory"
	app.Usage = "HAP-BLE accessory over a TCP GATT carrier"
	app.Version = "0.1.0"
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "hap-accessory.yaml",
			Usage: "YAML configuration `FILE`",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "keygen",
			Usage: "create the accessory Ed25519 long-term key",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "out, o", Usage: "key `FILE` (default: key_file of the configuration)"},
				cli.BoolFlag{Name: "force, f", Usage: "overwrite an existing key"},
			},
			Action: keygenAction,
		},
		{
			Name:  "run",
			Usage: "serve the accessory until interrupted",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "listen, l", Usage: "TCP `ADDRESS` of the GATT carrier"},
				cli.StringFlag{Name: "store, s", Usage: "key-value store `FILE`"},
				cli.StringFlag{Name: "log-level", Usage: "log `LEVEL`"},
			},
			Action: runAction,
		},
		{
			Name:  "selftest",
			Usage: "exercise Pair Verify, Pair Resume and secured reads in-process",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "log-level", Value: "disabled", Usage: "log `LEVEL` of the accessory"},
			},
			Action: selftestAction,
		},
		{
			Name:  "bump-config",
			Usage: "advance the configuration number after the attribute database changed",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "store, s", Usage: "key-value store `FILE` (default: store_file of the configuration)"},
			},
			Action: bumpConfigAction,
		},
	}
	return app
}

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "hap-accessory: %v\n", err)
		os.Exit(1)
	}
}
