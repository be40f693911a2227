package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	gopherchat "github.com/A13xB0/GopherChat"
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Peer-to-peer terminal chat",
	Long: `Peer-to-peer terminal chat over TCP, UDP, QUIC or WebSocket.

One port is used both for the local server and for the peer, so two
instances on different hosts can talk with the same settings.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringP("transport", "t", "tcp", "transport: tcp, udp, quic or websocket")
	flags.StringP("address", "a", "127.0.0.1", "peer IP address")
	flags.StringP("port", "p", "10000", "peer port, also the local server port")
	flags.BoolP("server", "s", false, "accept messages on the local port")
	flags.StringP("name", "n", "", "name shown on sent messages (default host name)")
	flags.String("verbose", "", "write debug logs to this file")
}

func run(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	transport, _ := flags.GetString("transport")
	address, _ := flags.GetString("address")
	port, _ := flags.GetString("port")
	server, _ := flags.GetBool("server")
	name, _ := flags.GetString("name")
	logPath, _ := flags.GetString("verbose")

	kind, err := gopherchat.ParseTransportKind(transport)
	if err != nil {
		return err
	}

	opts := []gopherchat.ChatOptFunc{
		gopherchat.WithLocalName(name),
	}
	if logPath != "" {
		logger, err := newFileLogger(logPath)
		if err != nil {
			return err
		}
		defer logger.Close()
		opts = append(opts, gopherchat.WithLogger(logger))
	}

	chat, err := gopherchat.New(opts...)
	if err != nil {
		return err
	}
	defer chat.Close()

	if err := chat.SetTransportKind(kind); err != nil {
		return err
	}
	if err := chat.SetRemoteAddress(address); err != nil {
		return err
	}
	if err := chat.SetRemotePort(port); err != nil {
		return err
	}
	chat.SetLocalServerEnabled(server)

	chat.PrintUsageInstructions()
	if logPath != "" {
		chat.AppendLine("Logging enabled to " + logPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := chat.Refresh(ctx); err != nil {
		chat.AppendLine(err.Error())
	}
	cancel()

	program := tea.NewProgram(newModel(chat), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
