// Package main: journal service.
//
// The journal records in the database the transaction events the bank service publishes to the message broker. Both
// a database and a message broker must be configured.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/op/go-logging"
	"github.com/urfave/cli/v2"

	"github.com/tarancss/fabbank/journal"
	"github.com/tarancss/fabbank/lib/config"
	"github.com/tarancss/fabbank/lib/metrics"
	"github.com/tarancss/fabbank/lib/msg/amqp"
	"github.com/tarancss/fabbank/lib/store/db"
)

var logger = logging.MustGetLogger("main")

func main() {
	app := &cli.App{
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "configuration `FILE` (.json or .toml)",
			},
			&cli.BoolFlag{
				Name:    "monitor",
				Aliases: []string{"m"},
				Usage:   "serve Prometheus metrics on the configured metrics port",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "verbose output",
			},
		},
		Name:     "journal",
		Usage:    "records the bank transaction events",
		Version:  "v0.1.0",
		Compiled: time.Now(),
		Action: func(c *cli.Context) error {
			configureLogging(c.Bool("verbose"))

			return run(c.String("config"), c.Bool("monitor"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func run(confPath string, monitor bool) error {
	// extract configuration
	conf, err := config.ExtractConfiguration(confPath)
	if err != nil {
		return err
	}

	logger.Infof("Configuration:%v", conf)

	if conf.DBConn == "" || conf.MbConn == "" {
		return errors.New("journal requires dbconn and mbconn")
	}

	if conf.MbType != "amqp" {
		return fmt.Errorf("unknown message broker type: %s", conf.MbType)
	}

	// connect to database
	dbConn, err := db.New(conf.DBType, conf.DBConn)
	if err != nil {
		return err
	}

	defer func() {
		logger.Infof("Disconnecting %v database, err:%v", conf.DBType, db.Close(conf.DBType, dbConn))
	}()

	// load message broker
	mb, err := amqp.New(conf.MbConn)
	if err != nil {
		time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

		if mb, err = amqp.New(conf.MbConn); err != nil {
			return err
		}
	}

	if err = mb.Setup(nil); err != nil {
		return err
	}

	defer func() {
		logger.Infof("Closing messageBroker, err:%v", mb.Close())
	}()

	var m metrics.Metrics

	if monitor {
		pm := metrics.NewPrometheusMetrics("fabbank_journal")
		m = pm

		go func() {
			logger.Infof("Serving metrics API on :%s", conf.MetricsPort)

			h := http.NewServeMux()
			h.Handle("/metrics", pm.HTTPHandler())

			s := &http.Server{Addr: ":" + conf.MetricsPort, Handler: h, ReadHeaderTimeout: 10 * time.Second}
			if err := s.ListenAndServe(); err != nil {
				logger.Errorf("Metrics server: %v", err)
			}
		}()
	}

	// create journal service
	j := journal.New(conf.Chaincode, dbConn, mb, m)

	done, err := j.Record()
	if err != nil {
		return err
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		logger.Info("Program killed !")
		j.Stop()
	}()

	logger.Infof("Journal: %s", <-done)

	return nil
}

func configureLogging(verbose bool) {
	logging.SetFormatter(
		logging.MustStringFormatter(`%{color}%{time:15:04:05.000} %{module:8s} ▶ %{level:.4s} %{id:03x}%{color:reset} %{message}`),
	)

	levelBackend := logging.AddModuleLevel(logging.NewLogBackend(os.Stdout, "", 0))
	if verbose {
		levelBackend.SetLevel(logging.DEBUG, "")
	} else {
		levelBackend.SetLevel(logging.INFO, "")
	}

	logging.SetBackend(levelBackend)
}
