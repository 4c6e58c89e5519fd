package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-isp-billing/app/factory"
	"github.com/vibast-solutions/ms-go-isp-billing/config"
)

var rootCmd = &cobra.Command{
	Use:   "isp-billing",
	Short: "ISP billing microservice",
	Long:  "Reconciles M-Pesa payments into subscriptions and provisions subscriber access on the router.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configureLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Log.Level))
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Log.Level, err)
	}

	logrus.SetLevel(level)
	if strings.EqualFold(strings.TrimSpace(cfg.Log.Format), "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	factory.ConfigureLogger(cfg.Log.Level, cfg.Log.Format)
	return nil
}
