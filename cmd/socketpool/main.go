// Command socketpool sends echo and add requests to a socketpoold server.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/socketpool"
)

type clientFlags struct {
	addr    string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f clientFlags

	root := &cobra.Command{
		Use:           "socketpool",
		Short:         "Talk to a socketpoold server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.addr, "addr", "127.0.0.1:8080", "server address")
	root.PersistentFlags().DurationVar(&f.timeout, "timeout", 5*time.Second, "per-request timeout")

	root.AddCommand(newEchoCmd(&f), newAddCmd(&f))
	return root
}

func newEchoCmd(f *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "echo <text>...",
		Short: "Send each argument as an echo request on one connection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := socketpool.Dial(cmd.Context(), f.addr, f.timeout)
			if err != nil {
				return err
			}
			defer client.Close()

			for _, text := range args {
				content, err := client.Echo([]byte(text))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(content))
			}
			return nil
		},
	}
}

func newAddCmd(f *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add <a> <b>",
		Short: "Ask the server for the 32-bit sum of two integers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return errors.Wrap(err, "invalid a")
			}
			b, err := strconv.ParseInt(args[1], 10, 32)
			if err != nil {
				return errors.Wrap(err, "invalid b")
			}

			client, err := socketpool.Dial(cmd.Context(), f.addr, f.timeout)
			if err != nil {
				return err
			}
			defer client.Close()

			sum, err := client.Add(int32(a), int32(b))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	}
}
