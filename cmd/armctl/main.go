// Command armctl is the operator CLI for the arm control daemon.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"armctl/internal/ipc"
	"armctl/pkg/types"
)

var (
	addr    string
	timeout time.Duration
)

func connect() (*ipc.Client, error) {
	return ipc.Dial(addr, timeout)
}

func request(messageType string, data map[string]interface{}) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Request(messageType, data)
	if err != nil {
		return err
	}
	delete(resp.Data, "request_id")
	out, err := json.MarshalIndent(resp.Data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func parseFloat(arg, name string) (float64, error) {
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a number", name, arg)
	}
	return v, nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the daemon state, pose and active mission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return request("status", nil)
		},
	}
}

func newGotoCmd() *cobra.Command {
	var priority int
	var deadline float64

	cmd := &cobra.Command{
		Use:   "goto x,y[,yaw]",
		Short: "Assign a navigation mission to the given planar target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parts := strings.Split(args[0], ",")
			if len(parts) < 2 || len(parts) > 3 {
				return fmt.Errorf("expected x,y or x,y,yaw, got %q", args[0])
			}
			names := []string{"x", "y", "yaw"}
			data := map[string]interface{}{
				"type":     "navigation",
				"priority": priority,
			}
			for i, part := range parts {
				v, err := parseFloat(strings.TrimSpace(part), names[i])
				if err != nil {
					return err
				}
				data[names[i]] = v
			}
			if deadline > 0 {
				data["deadline_s"] = deadline
			}
			return request("mission_request", data)
		},
	}
	cmd.Flags().IntVar(&priority, "priority", int(types.PriorityMedium), "mission priority (0=emergency..3=low)")
	cmd.Flags().Float64Var(&deadline, "deadline", 0, "mission deadline in seconds")
	return cmd
}

func newMoveCmd() *cobra.Command {
	var priority int
	var deadline float64

	cmd := &cobra.Command{
		Use:   "move <x> <y> <z> [roll] [pitch] [yaw]",
		Short: "Assign a manipulation mission to the given end-effector pose",
		Args:  cobra.RangeArgs(3, 6),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := []string{"x", "y", "z", "roll", "pitch", "yaw"}
			data := map[string]interface{}{
				"type":     "manipulation",
				"priority": priority,
			}
			for i, arg := range args {
				v, err := parseFloat(arg, names[i])
				if err != nil {
					return err
				}
				data[names[i]] = v
			}
			if deadline > 0 {
				data["deadline_s"] = deadline
			}
			return request("mission_request", data)
		},
	}
	cmd.Flags().IntVar(&priority, "priority", int(types.PriorityMedium), "mission priority (0=emergency..3=low)")
	cmd.Flags().Float64Var(&deadline, "deadline", 0, "mission deadline in seconds")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <mission-id>",
		Short: "Cancel a pending or active mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return request("mission_cancel", map[string]interface{}{"mission_id": args[0]})
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Assert the emergency stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return request("estop", nil)
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"reset"},
		Short:   "Clear the emergency stop and resume from idle",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return request("estop_reset", nil)
		},
	}
}

func newHomeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "home",
		Short: "Move the arm to its home configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return request("home", nil)
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream status reports until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()

			for msg := range client.Notifications() {
				if msg.Type != "status_report" {
					continue
				}
				out, err := json.Marshal(msg.Data)
				if err != nil {
					continue
				}
				fmt.Println(string(out))
			}
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:           "armctl",
		Short:         "Operator CLI for the arm control daemon",
		SilenceUsage:  false,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:8420", "daemon address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	root.AddCommand(
		newStatusCmd(),
		newGotoCmd(),
		newMoveCmd(),
		newCancelCmd(),
		newStopCmd(),
		newStartCmd(),
		newHomeCmd(),
		newWatchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "armctl: %v\n", err)
		os.Exit(1)
	}
}
