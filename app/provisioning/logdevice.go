package provisioning

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-isp-billing/app/factory"
)

// LogProvisioner records router changes without applying them. It is used
// when no router address is configured.
type LogProvisioner struct {
	logger logrus.FieldLogger
}

func NewLogProvisioner() *LogProvisioner {
	return &LogProvisioner{logger: factory.NewModuleLogger("provisioning")}
}

func (p *LogProvisioner) Apply(_ context.Context, username, profile string) bool {
	p.logger.WithFields(logrus.Fields{"username": username, "profile": profile}).Info("No router configured, enable skipped")
	return true
}

func (p *LogProvisioner) Revoke(_ context.Context, username string) bool {
	p.logger.WithField("username", username).Info("No router configured, disable skipped")
	return true
}
