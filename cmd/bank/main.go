// Package main: bank service.
//
// The service enrolls the admin identity and deploys the bank chaincode before serving its RESTful API. A failed
// bootstrap ends the process with exit code 1.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/op/go-logging"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tarancss/fabbank/bank"
	"github.com/tarancss/fabbank/lib/block"
	"github.com/tarancss/fabbank/lib/config"
	"github.com/tarancss/fabbank/lib/metrics"
	"github.com/tarancss/fabbank/lib/msg"
	"github.com/tarancss/fabbank/lib/msg/amqp"
	"github.com/tarancss/fabbank/lib/store"
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
				Value:   false,
				Usage:   "serve Prometheus metrics on the configured metrics port",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Value: false,
				Usage: "verbose output",
			},
		},
		Name:     "bank",
		Usage:    "serves a bank RESTful API backed by a Fabric chaincode",
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

	// connect to database
	var dbConn store.DB

	if conf.DBConn != "" {
		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			return err
		}

		logger.Infof("Connected to %s database", conf.DBType)
	}

	// load message broker
	var mb msg.MsgBroker

	if conf.MbConn != "" {
		if mb, err = broker(conf.MbType, conf.MbConn); err != nil {
			return err
		}
	}

	// blockchain client
	bc, err := block.Init(conf)
	if err != nil {
		return err
	}

	logger.Infof("Blockchain client loaded for peer %s", conf.Chain.Peer)

	var m metrics.Metrics

	pm := metrics.NewPrometheusMetrics("fabbank")
	if monitor {
		m = pm
	}

	// create bank service
	b := bank.New(conf, dbConn, mb, bc, m)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// nothing is served until the chaincode is deployed
	if err = b.Bootstrap(ctx); err != nil {
		var be *bank.BootstrapError
		if errors.As(err, &be) && be.Stage == bank.Unenrolled {
			logger.Fatalf("Bootstrap failed: %v", err)
		}

		logger.Errorf("Bootstrap failed: %v", err)
		b.Stop()
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	// init RESTful API, wait for its return and log response
	g.Go(func() error {
		res := b.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey)
		logger.Infof("Bank: %s", res)

		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("bank: %s", res)
	})

	// load Prometheus monitor
	var ms *http.Server

	if monitor {
		h := http.NewServeMux()
		h.Handle("/metrics", pm.HTTPHandler())
		ms = &http.Server{Addr: ":" + conf.MetricsPort, Handler: h, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			logger.Infof("Serving metrics API on :%s", conf.MetricsPort)

			if err := ms.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})
	}

	// do last actions and wait for all write operations to end
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Program killed !")
		b.Stop()

		if ms != nil {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()

			return ms.Shutdown(sctx)
		}

		return nil
	})

	return g.Wait()
}

// broker connects to the message broker, retrying once after 10s to let it be ready.
func broker(mbType, mbConn string) (msg.MsgBroker, error) {
	if mbType != "amqp" {
		return nil, fmt.Errorf("unknown message broker type: %s", mbType)
	}

	mb, err := amqp.New(mbConn)
	if err != nil {
		logger.Warningf("Cannot connect to message broker, retrying in 10s: %v", err)
		time.Sleep(10 * time.Second)

		if mb, err = amqp.New(mbConn); err != nil {
			return nil, err
		}
	}

	if err = mb.Setup(nil); err != nil {
		return nil, err
	}

	return mb, nil
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
