// Command idsd runs the intrusion detection service: the dataset and
// training workflow, the live traffic monitor and its HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/api"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/capture"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/config"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
)

var (
	// Version information (set via -ldflags)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"

	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "idsd",
		Short: "Network intrusion detection service",
		Long: `idsd trains decision tree and random forest classifiers on labelled
flow datasets and classifies live or replayed traffic with the loaded model.
` + config.PathEnvVarsDoc,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd(), newTrainCmd(), newInterfacesCmd(), newVersionCmd())
	return rootCmd
}

// loadConfig reads the configuration and initialises logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logging.Init(&logging.Config{
		Level:     logging.ParseLevel(cfg.Logging.Level),
		Output:    os.Stderr,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("idsd %s\n", version)
			fmt.Printf("  git commit: %s\n", gitCommit)
			fmt.Printf("  build date: %s\n", buildDate)
			fmt.Printf("  go version: %s\n", runtime.Version())
		},
	}
}

func newInterfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "List capture interfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			ifaces, err := capture.ListInterfaces()
			if err != nil {
				return err
			}
			selected, _ := capture.SelectInterface()
			for _, iface := range ifaces {
				mark := " "
				if iface.Name == selected {
					mark = "*"
				}
				state := "down"
				if iface.Up {
					state = "up"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-16s %-5s mtu=%-6d %s %v\n",
					mark, iface.Name, state, iface.MTU, iface.MAC, iface.Addresses)
			}
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	api.Version = version
}
