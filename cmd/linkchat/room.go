package main

import (
	"fmt"

	"linkchat/cmd/internal/room"

	"github.com/spf13/cobra"
)

var roomCmd = &cobra.Command{
	Use:   "room <user> <user>",
	Short: "Print the room token shared by two users",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := room.Token(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomCmd)
}
