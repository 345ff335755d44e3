package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/flemzord/rolegate/pkg/app"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// program adapts app.Run to the service manager's Start/Stop callbacks.
type program struct {
	params app.RunParams
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(_ service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() { p.done <- app.Run(ctx, p.params) }()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

// serviceConfig describes the system service. The installed unit runs
// "service run" with the absolute config path so it does not depend on
// the working directory.
func serviceConfig(params app.RunParams) (*service.Config, error) {
	args := []string{"service", "run"}
	if params.ConfigPath != "" {
		abs, err := filepath.Abs(params.ConfigPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	if params.DataDir != "" {
		abs, err := filepath.Abs(params.DataDir)
		if err != nil {
			return nil, err
		}
		args = append(args, "--data-dir", abs)
	}
	return &service.Config{
		Name:        "rolegate",
		DisplayName: "rolegate",
		Description: "Bridges chat groups to AI providers through named roles.",
		Arguments:   args,
	}, nil
}

func newService(cmd *cobra.Command) (service.Service, error) {
	params := runParams(cmd)
	cfg, err := serviceConfig(params)
	if err != nil {
		return nil, err
	}
	return service.New(&program{params: params}, cfg)
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or run rolegate as a system service",
	}
	action := func(use, short string, fn func(service.Service) error, done string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := newService(cmd)
				if err != nil {
					return err
				}
				if err := fn(svc); err != nil {
					return fmt.Errorf("service %s: %w", use, err)
				}
				if done != "" {
					fmt.Fprintln(cmd.OutOrStdout(), done)
				}
				return nil
			},
		}
	}
	cmd.AddCommand(
		action("install", "Install the system service", service.Service.Install, "Service installed"),
		action("uninstall", "Remove the system service", service.Service.Uninstall, "Service removed"),
		action("run", "Run under the service manager", service.Service.Run, ""),
	)
	return cmd
}
