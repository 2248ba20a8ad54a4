package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dStream/cmd/consume"
	"github.com/ValentinKolb/dStream/cmd/publish"
	"github.com/ValentinKolb/dStream/cmd/stream"
	"github.com/ValentinKolb/dStream/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dstream",
		Short: "client for append-only stream brokers",
		Long: fmt.Sprintf(`dStream (v%s)

A client for log-structured stream brokers written in Go. It publishes
messages with confirmations, consumes streams with flow control and
offset tracking, and reconnects transparently.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dStream",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dStream v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitClientConfig)

	// Add Commands
	RootCmd.AddCommand(stream.StreamCommands)
	RootCmd.AddCommand(stream.OffsetCommands)
	RootCmd.AddCommand(publish.PublishCmd)
	RootCmd.AddCommand(consume.ConsumeCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupClientFlags(RootCmd)
	key := "metrics"
	RootCmd.PersistentFlags().Bool(key, false, util.WrapString("print the client metrics in prometheus format to stderr when the command finishes"))
	_ = viper.BindPFlags(RootCmd.PersistentFlags())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	err := RootCmd.Execute()
	util.DumpMetrics()
	if err != nil {
		os.Exit(1)
	}
}
