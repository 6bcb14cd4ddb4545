package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/filterdteam/filterd/internal/config"
	"github.com/filterdteam/filterd/internal/wire"
)

var ctlSocket string

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Control a running filterd daemon",
	Long:  "Send commands to a running filterd daemon over its control socket.",
}

func dialControl() (*wire.Conn, error) {
	sock := ctlSocket
	if sock == "" {
		sock = config.DefaultSocket
	}
	uc, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: sock, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %s: %w (is filterd running?)", sock, err)
	}
	uc.SetDeadline(time.Now().Add(5 * time.Second))
	return wire.NewConn(uc), nil
}

var ctlReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialControl()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Send(wire.CtlReload, 0, 0, -1, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "reload requested")
		return nil
	},
}

var ctlVerboseCmd = &cobra.Command{
	Use:   "verbose <level>",
	Short: "Set the daemon log verbosity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("verbosity %q is not a number", args[0])
		}
		c, err := dialControl()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Send(wire.CtlLogVerbose, 0, 0, -1, wire.Int32Payload(int32(v))); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "verbosity set to %d\n", v)
		return nil
	},
}

var ctlStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialControl()
		if err != nil {
			return err
		}
		defer c.Close()

		const corr = 1
		if err := c.Send(wire.CtlShowMainInfo, corr, 0, -1, nil); err != nil {
			return err
		}
		for {
			m, err := c.Recv()
			if err != nil {
				return fmt.Errorf("no status reply: %w", err)
			}
			if m.Type == wire.CtlEnd && m.CorrID == corr {
				fmt.Fprintln(cmd.OutOrStdout(), "filterd is running")
				return nil
			}
		}
	},
}

func init() {
	ctlCmd.PersistentFlags().StringVarP(&ctlSocket, "socket", "s", "", "Control socket path")
	ctlCmd.AddCommand(ctlReloadCmd, ctlVerboseCmd, ctlStatusCmd)
	rootCmd.AddCommand(ctlCmd)
}
