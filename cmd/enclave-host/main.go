// Command enclave-host drives EnclaveLifecycle against real ELF files
// supplied via flags or a TOML config file.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/keystone-riscv/enclave-host/internal/config"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "enclave-host",
		Short: "Build, run, and tear down a simulated or physical enclave",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a TOML config file")

	root.AddCommand(runCmd())
	root.AddCommand(createCmd())
	root.AddCommand(destroyCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	is32, _ := cmd.Flags().GetBool("is32")
	base := config.Default64()
	if is32 {
		base = config.Default32()
	}

	runtimePath, _ := cmd.Flags().GetString("runtime")
	eappPath, _ := cmd.Flags().GetString("eapp")
	backend, _ := cmd.Flags().GetString("backend")
	if runtimePath != "" {
		base.RuntimePath = runtimePath
	}
	if eappPath != "" {
		base.EappPath = eappPath
	}
	if backend != "" {
		base.Backend = config.Backend(backend)
	}

	cfg, err := config.Load(cfgPath, base)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func addELFFlags(cmd *cobra.Command) {
	cmd.Flags().String("runtime", "", "path to the runtime ELF")
	cmd.Flags().String("eapp", "", "path to the eapp ELF")
	cmd.Flags().String("backend", "", "simulated | sbi | ioctl")
	cmd.Flags().Bool("is32", false, "use Sv32/32-bit defaults instead of Sv39/64-bit")
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build an enclave, run it to completion, then destroy it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runOnce(cfg)
		},
	}
	addELFFlags(cmd)
	return cmd
}

func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Build an enclave and report its assigned id, without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			e, cleanup, err := build(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			fmt.Printf("enclave id=0x%x state=%s\n", e.ID(), e.State())
			return nil
		},
	}
	addELFFlags(cmd)
	return cmd
}

func destroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Destroy is implicit: enclaves in this process only live for one command invocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("enclave-host: nothing to destroy across process invocations; use 'run' for a full lifecycle")
		},
	}
}
