// drip runs a fluid-dispensing solenoid valve: three trigger sources
// (manual button, external trigger line, drain panel button) arbitrate one
// two-stage valve output, a serial load-cell bridge meters what was
// dispensed, and calibration maps pulse width to dispensed volume.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/itohio/godrip/pkg/config"
	"github.com/itohio/godrip/pkg/logger"
	"github.com/itohio/godrip/pkg/scale"
	"github.com/itohio/godrip/pkg/version"
)

var (
	configPath string
	logLevel   string
	portFlag   string
	mockFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "drip",
	Short: "Dispensing valve controller for a fluid-reward rig.",
	Long: `drip drives a solenoid dispensing valve from three trigger sources
(manual button, external trigger line, drain panel button), meters the
dispensed fluid on a serial load-cell bridge, and calibrates valve pulse
width against dispensed volume.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "scale serial port override (e.g. /dev/ttyACM0)")
	rootCmd.PersistentFlags().BoolVar(&mockFlag, "mock", false, "run against a simulated rig instead of hardware")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(calibrateCmd)
	version.AttachCobraVersionCommand(rootCmd)
}

// loadConfig reads the configuration, applies flag overrides, validates,
// and sets the global log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if portFlag != "" {
		cfg.Scale.Port = portFlag
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		logger.Logger().Warnf("Unknown log level %q, using %s", cfg.LogLevel, level)
	}
	logger.SetLevel(level)

	return cfg, nil
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports for locating the scale bridge.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ports, err := scale.Ports()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
			return nil
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p.Name)
		}
		return nil
	},
}
