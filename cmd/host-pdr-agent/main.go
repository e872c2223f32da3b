// Command host-pdr-agent exchanges Platform Descriptor Records with the host
// over PLDM/MCTP and publishes host sensor state on D-Bus.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "host-pdr-agent",
	Short: "Host PDR exchange agent",
	Long: `Fetches the host's PLDM PDR repository, merges host entity associations
into the BMC entity tree, indexes host sensors and FRU record sets and
notifies the host of the records the BMC repository gained.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches pldm.yaml in ., ./config and /etc/pldm)")
	rootCmd.AddCommand(newRunCmd(), newDecodeCmd(), newHistoryCmd(), newFetchCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
