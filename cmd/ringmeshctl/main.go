// Command ringmeshctl is a thin operator CLI attaching to a running
// ring as a client-mode participant to inspect topology, send custom
// events, and request a node's removal.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ringmesh/internal/buildinfo"
	"ringmesh/internal/logging"
	"ringmesh/internal/ring/addressbook"
	"ringmesh/internal/ring/discovery"
	"ringmesh/internal/ring/topology"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		logLevel string
		routers  []string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:     "ringmeshctl",
		Short:   "Operator CLI for a ringmesh cluster",
		Version: buildinfo.Version,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return logging.Configure(logLevel)
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", logging.LevelWarn, "log level: debug|info|warn|error")
	flags.StringSliceVar(&routers, "router", []string{"127.0.0.1:47500"}, "candidate router addresses")
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "operation timeout")

	cmd.AddCommand(
		statusCmd(&routers, &timeout),
		topologyCmd(&routers, &timeout),
		sendEventCmd(&routers, &timeout),
		leaveCmd(&routers, &timeout),
	)
	return cmd
}

func attach(ctx context.Context, routers []string) (discovery.SPI, error) {
	node, err := discovery.New(uuid.New(),
		discovery.AsClient(),
		discovery.WithProvider(addressbook.NewStatic(routers...)),
	)
	if err != nil {
		return nil, fmt.Errorf("ringmeshctl: construct client: %w", err)
	}
	if err := node.Start(ctx); err != nil {
		return nil, fmt.Errorf("ringmeshctl: attach: %w", err)
	}
	return node, nil
}

func statusCmd(routers *[]string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the coordinator and live member count",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), *timeout)
			defer cancel()
			node, err := attach(ctx, *routers)
			if err != nil {
				return err
			}
			defer func() { _ = node.Disconnect(context.Background()) }()

			snap := node.GetRemoteNodes()
			fmt.Println(renderStatus(snap))
			return nil
		},
	}
}

func topologyCmd(routers *[]string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "List every live node in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), *timeout)
			defer cancel()
			node, err := attach(ctx, *routers)
			if err != nil {
				return err
			}
			defer func() { _ = node.Disconnect(context.Background()) }()

			snap := node.GetRemoteNodes()
			for _, n := range snap.Nodes {
				role := " "
				if snap.IsCoordinator(n.ID) {
					role = "*"
				}
				fmt.Printf("%s order=%-4d %s\n", role, n.Order, n.ID)
			}
			return nil
		},
	}
}

func sendEventCmd(routers *[]string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "send-event <payload>",
		Short: "Broadcast a custom event to every live node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), *timeout)
			defer cancel()
			node, err := attach(ctx, *routers)
			if err != nil {
				return err
			}
			defer func() { _ = node.Disconnect(context.Background()) }()

			return node.SendCustomEvent(ctx, []byte(args[0]))
		},
	}
}

func leaveCmd(routers *[]string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <node-id>",
		Short: "Force-fail a node under operator authority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("ringmeshctl: invalid node id %q: %w", args[0], err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), *timeout)
			defer cancel()
			node, err := attach(ctx, *routers)
			if err != nil {
				return err
			}
			defer func() { _ = node.Disconnect(context.Background()) }()

			return node.FailNode(ctx, id)
		},
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	muteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func renderStatus(snap topology.Snapshot) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("ringmesh topology") + "\n")
	fmt.Fprintf(&b, "%s %d\n", muteStyle.Render("version:"), snap.Version)
	fmt.Fprintf(&b, "%s %d\n", muteStyle.Render("members:"), len(snap.Nodes))
	if c, ok := snap.Coordinator(); ok {
		fmt.Fprintf(&b, "%s %s\n", muteStyle.Render("coordinator:"), activeStyle.Render(c.ID.String()))
	}
	return b.String()
}
