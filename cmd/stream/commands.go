package stream

import (
	"fmt"
	"github.com/spf13/cobra"
	"strconv"
)

var (
	createCmd = &cobra.Command{
		Use:   "create [stream]",
		Short: "Creates a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := cmd.Flags().GetStringToString("arg")
			if err != nil {
				return err
			}
			if err := conn.CreateStream(cmd.Context(), args[0], arguments); err != nil {
				return err
			} else {
				fmt.Printf("stream %s created\n", args[0])
			}
			return nil
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [stream]",
		Short: "Deletes a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conn.DeleteStream(cmd.Context(), args[0]); err != nil {
				return err
			} else {
				fmt.Printf("stream %s deleted\n", args[0])
			}
			return nil
		},
	}
	queryOffsetCmd = &cobra.Command{
		Use:   "query [reference] [stream]",
		Short: "Prints the offset stored for a consumer reference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := conn.QueryOffset(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(offset)
			return nil
		},
	}
	storeOffsetCmd = &cobra.Command{
		Use:   "store [reference] [stream] [offset]",
		Short: "Stores the offset for a consumer reference",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("offset must be a number: %w", err)
			}
			if err := conn.StoreOffset(args[0], args[1], offset); err != nil {
				return err
			}

			// StoreOffset has no response, read it back to be sure it arrived
			stored, err := conn.QueryOffset(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("offset %d stored\n", stored)
			return nil
		},
	}
)
