// Command routerd runs the global scheduler as a standalone HTTP service,
// in the urfave/cli style the teacher's own cmd/cli commands use.
package main

import (
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/urfave/cli"

	"github.com/globalsched/scheduler/cmn"
	"github.com/globalsched/scheduler/obs"
	"github.com/globalsched/scheduler/sched"
	"github.com/globalsched/scheduler/transport"
)

func main() {
	app := cli.NewApp()
	app.Name = "routerd"
	app.Usage = "global LLM-inference request router"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to a YAML config file"},
		cli.IntFlag{Name: "workers", Usage: "number of inference workers", Value: 4},
		cli.StringFlag{Name: "listen", Usage: "HTTP listen address", Value: ":8080"},
		cli.StringFlag{Name: "overlay", Usage: "JSON config overlay, e.g. env-sourced"},
		cli.DurationFlag{Name: "obs-ttl", Usage: "observability record TTL", Value: 0},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := cmn.LoadConfigFile(c.String("config"), c.Int("workers"), c.String("overlay"))
	if err != nil {
		return err
	}
	if err := cmn.GCO.CommitUpdate(cfg); err != nil {
		return err
	}

	ttl := c.Duration("obs-ttl")
	if ttl <= 0 {
		ttl = cfg.Window
	}
	records, err := obs.Open(ttl)
	if err != nil {
		return err
	}
	defer records.Close()

	scheduler := sched.New(cfg)
	srv := transport.NewServer(scheduler, records)

	stop := cmn.NewStopCh()
	glog.Infof("routerd listening on %s with %d workers", c.String("listen"), cfg.NumWorkers)
	return srv.ListenAndServe(c.String("listen"), stop.Listen())
}
