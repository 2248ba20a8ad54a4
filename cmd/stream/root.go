package stream

import (
	"context"
	"github.com/ValentinKolb/dStream/cmd/util"
	"github.com/ValentinKolb/dStream/rpc/client"
	"github.com/spf13/cobra"
)

var (
	conn *client.Connection

	// StreamCommands represents the stream management command group
	StreamCommands = &cobra.Command{
		Use:                "stream",
		Short:              "Create and delete streams",
		PersistentPreRunE:  openConnection,
		PersistentPostRunE: closeConnection,
	}

	// OffsetCommands represents the offset tracking command group
	OffsetCommands = &cobra.Command{
		Use:                "offset",
		Short:              "Query and store consumer offsets",
		PersistentPreRunE:  openConnection,
		PersistentPostRunE: closeConnection,
	}
)

func init() {
	// Add subcommands
	StreamCommands.AddCommand(createCmd)
	StreamCommands.AddCommand(deleteCmd)
	OffsetCommands.AddCommand(queryOffsetCmd)
	OffsetCommands.AddCommand(storeOffsetCmd)

	// Add flags
	createCmd.Flags().StringToString("arg", nil, util.WrapString("stream arguments as key=value pairs, e.g. --arg max-length-bytes=1000000"))
}

// openConnection connects to the first reachable broker
func openConnection(cmd *cobra.Command, _ []string) error {
	config, connector, err := util.Setup(cmd)
	if err != nil {
		return err
	}

	conn, err = client.Connect(cmd.Context(), *config, connector)
	return err
}

// closeConnection closes the connection opened by openConnection
func closeConnection(_ *cobra.Command, _ []string) error {
	if conn == nil {
		return nil
	}
	return conn.Close(context.Background())
}
