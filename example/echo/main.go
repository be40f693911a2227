package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	gopherchat "github.com/A13xB0/GopherChat"
)

var rootCmd = &cobra.Command{
	Use:   "echo",
	Short: "Headless chat peer that sends every received message back",
	Long: `Headless chat peer that listens on the shared port and echoes every
received message back on the connection it arrived on. Point the chat
example at it with the same transport and port, with its local server off
when both run on one host.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringP("transport", "t", "tcp", "transport: tcp, udp, quic or websocket")
	flags.StringP("address", "a", "127.0.0.1", "peer IP address")
	flags.StringP("port", "p", "10000", "peer port, also the local server port")
	flags.StringP("name", "n", "echo", "name shown on sent messages")
}

func run(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	transport, _ := flags.GetString("transport")
	address, _ := flags.GetString("address")
	port, _ := flags.GetString("port")
	name, _ := flags.GetString("name")

	kind, err := gopherchat.ParseTransportKind(transport)
	if err != nil {
		return err
	}
	chat, err := gopherchat.New(gopherchat.WithLocalName(name))
	if err != nil {
		return err
	}
	if err := chat.SetTransportKind(kind); err != nil {
		return err
	}
	if err := chat.SetRemoteAddress(address); err != nil {
		return err
	}
	if err := chat.SetRemotePort(port); err != nil {
		return err
	}
	chat.SetLocalServerEnabled(true)

	// Setup signal handler for graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	updates, cancel := chat.Transcript().Subscribe(100)
	defer cancel()

	ctx, cancelRefresh := context.WithTimeout(context.Background(), 10*time.Second)
	err = chat.Refresh(ctx)
	cancelRefresh()
	if err != nil {
		// A missing peer is fine until it starts; a bind error is not
		if !chatErrorKind(err, gopherchat.KindConnect) {
			chat.Close()
			return err
		}
		fmt.Printf("Peer not reachable yet: %v\n", err)
	}
	fmt.Printf("Echoing %s on %s\n", kind, chat.ListenAddr())

	for {
		select {
		case line := <-updates:
			fmt.Println(line.Text)
			if line.Direction == gopherchat.Received {
				echo(chat, line.Text)
			}
		case sig := <-sigs:
			fmt.Printf("\nReceived signal: %v, shutting down...\n", sig)
			return chat.Close()
		}
	}
}

// echo replies with the text of a received line on the session it came in on
func echo(chat *gopherchat.Chat, line string) {
	_, text, ok := strings.Cut(line, ": ")
	if !ok {
		return
	}
	if err := chat.ReplyMessage(text); err != nil {
		fmt.Printf("Failed to echo: %v\n", err)
	}
}

// chatErrorKind reports whether every error joined in err is of kind
func chatErrorKind(err error, kind gopherchat.ErrorKind) bool {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return isKind(err, kind)
	}
	for _, e := range joined.Unwrap() {
		if !isKind(e, kind) {
			return false
		}
	}
	return true
}

func isKind(err error, kind gopherchat.ErrorKind) bool {
	var chatErr *gopherchat.ChatError
	return errors.As(err, &chatErr) && chatErr.Kind == kind
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
