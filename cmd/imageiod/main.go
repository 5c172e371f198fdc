// Command imageiod is the ticket-scoped image transfer daemon: it loads
// configuration, wires the shared ticket authorizer and stats registry
// into the transfer and control handler sets, and runs the Remote, Local,
// and Control services side by side until a signal or a service failure
// brings the group down (spec.md §4.7), grounded on ais/daemon.go's
// Run/initDaemon flow and cmd/aisnodeprofile/main.go's thin main().

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ovirt/imageio-core/internal/config"
	"github.com/ovirt/imageio-core/internal/control"
	"github.com/ovirt/imageio-core/internal/logging"
	"github.com/ovirt/imageio-core/internal/service"
	"github.com/ovirt/imageio-core/internal/stats"
	"github.com/ovirt/imageio-core/internal/ticket"
	"github.com/ovirt/imageio-core/internal/transfer"
)

// NOTE: set by -ldflags at build time.
var (
	version   string
	buildTime string
)

var (
	vendorDir = pflag.String("vendor-conf", "/etc/ovirt-imageio/conf.d", "directory of vendor-shipped *.conf files")
	userDir   = pflag.String("user-conf", "/etc/ovirt-imageio", "directory of user-override *.conf files")
	showUsage = pflag.BoolP("help", "h", false, "show usage and exit")
)

func main() {
	os.Exit(run())
}

func run() int {
	pflag.Parse()
	if *showUsage {
		pflag.Usage()
		return 0
	}
	defer logging.Flush()

	cfg, err := config.Load(*vendorDir, *userDir)
	if err != nil {
		logging.Errorf("loading configuration: %v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		logging.Errorf("invalid configuration: %v", err)
		return 1
	}
	config.Put(cfg)

	logging.Infof("imageiod starting | version=%s build=%s", version, buildTime)

	authz := ticket.NewAuthorizer()
	reg := stats.NewRegistry()

	grp, err := buildGroup(cfg, authz, reg)
	if err != nil {
		logging.Errorf("starting services: %v", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := grp.Run(ctx); err != nil {
		logging.Warningf("imageiod terminated with error: %v", err)
		return 1
	}
	logging.Infof("imageiod terminated OK")
	return 0
}

// buildGroup wires one transfer (data-plane) handler set shared by the
// Remote and Local services, one control handler set for the Control
// service, and registers all three with a service.Group (spec.md §4.7).
func buildGroup(cfg *config.Config, authz *ticket.Authorizer, reg *stats.Registry) (*service.Group, error) {
	dataHandlers := transfer.New(authz, cfg, reg)
	ctrlHandlers := control.New(authz, cfg)

	grp := service.NewGroup()

	remote, err := service.NewRemoteService(cfg, dataHandlers.Router())
	if err != nil {
		return nil, err
	}
	grp.Add(remote)

	if cfg.Local.Enable {
		local, err := service.NewLocalService(cfg, dataHandlers.Router())
		if err != nil {
			return nil, err
		}
		grp.Add(local)
	}

	ctrl, err := service.NewControlService(cfg, ctrlHandlers.Router())
	if err != nil {
		return nil, err
	}
	grp.Add(ctrl)

	return grp, nil
}
