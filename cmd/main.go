package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"papertrader/cmd/analyzer"
	"papertrader/src/database"
	"papertrader/src/ledger"
	"papertrader/src/repository"
	"papertrader/src/server"
)

var Version string

func main() {
	_ = godotenv.Load()

	app := cli.NewApp()
	app.Name = "Papertrader CMD"
	app.Usage = "The papertrader command line interface"

	app.Commands = []cli.Command{
		serverCMD,
		analyzerCMD,
		resetCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run API server",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the dashboard API server`,
	}
	analyzerCMD = cli.Command{
		Name:        "analyzer",
		Usage:       "run watched-stock analyzer",
		Action:      analyzerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the background analysis refresh loop`,
	}
	resetCMD = cli.Command{
		Name:      "reset",
		Usage:     "reset a user's portfolio",
		Action:    resetAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "user",
				Usage: "email of the account to reset",
			},
		},
		Description: `Restore a user's paper account to its initial state`,
	}
)

func serverAction(_ *cli.Context) error {
	logrus.Info("Starting server CMD")
	logrus.WithField("cmd", "server")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
		return err
	}

	server.StartServer(server.GetConfig().Port)
	return nil
}

func analyzerAction(_ *cli.Context) error {
	logrus.Info("Starting analyzer CMD")
	logrus.WithField("cmd", "analyzer")

	a := &analyzer.Analyzer{}
	err := a.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func resetAction(c *cli.Context) error {
	user := c.String("user")
	if user == "" {
		return errors.New("--user is required")
	}

	logrus.WithField("user", user).Info("Starting reset CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
		return err
	}

	lgr := ledger.NewService(repository.NewAccountRepository())
	if err := lgr.ResetPortfolio(context.Background(), user); err != nil {
		logrus.WithError(err).Error("Failed to reset portfolio")
		return err
	}

	logrus.WithField("user", user).Info("Portfolio reset")
	return nil
}
