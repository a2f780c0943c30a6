package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	buzzsway "github.com/buzzsway/buzzsway-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// chat (parent command)
// ============================================================================

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Private messaging",
	Long:  "Read message history, send private messages, and watch a conversation live.",
}

// ============================================================================
// chat history
// ============================================================================

var chatHistoryCmd = &cobra.Command{
	Use:   "history <username>",
	Short: "Show message history with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getAuthedClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		messages, err := client.Messages().History(ctx, session.Username, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(messages) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}
		for _, m := range messages {
			printMessage(m, session.Username)
		}
		return nil
	},
}

// ============================================================================
// chat send
// ============================================================================

var chatSendCmd = &cobra.Command{
	Use:   "send <username> <message>",
	Short: "Send a private message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getAuthedClient()
		peer, content := args[0], args[1]

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		channel := client.NewChannel(nil)
		if err := channel.Connect(ctx, session); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer channel.Disconnect()

		conv := buzzsway.NewConversationStore(session, peer, channel, client.Messages(), nil)
		conv.Start()
		defer conv.Stop()

		if err := conv.Send(ctx, content); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		fmt.Printf("Message sent to @%s.\n", peer)
		return nil
	},
}

// ============================================================================
// chat watch
// ============================================================================

var chatWatchCmd = &cobra.Command{
	Use:   "watch <username>",
	Short: "Watch a conversation live",
	Long:  "Connect to the realtime channel, print history, and stream incoming messages.\nLines typed on stdin are sent to the peer. Ctrl-C exits.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getAuthedClient()
		peer := args[0]

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		channel := client.NewChannel(&buzzsway.ChannelConfig{AutoReconnect: true})
		channel.OnDisconnected(func(reason string) {
			fmt.Printf("-- disconnected: %s\n", reason)
		})
		channel.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("-- reconnecting (attempt %d, in %s)\n", attempt, delay)
		})

		if err := channel.Connect(ctx, session); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer channel.Disconnect()

		presence := buzzsway.NewPresenceTracker(channel, nil)
		presence.Start(session)
		defer presence.Stop()
		presence.Subscribe(func(online []string) {
			for _, name := range online {
				if name == peer {
					return
				}
			}
			fmt.Printf("-- @%s is offline\n", peer)
		})

		conv := buzzsway.NewConversationStore(session, peer, channel, client.Messages(), nil)
		conv.Start()
		defer conv.Stop()
		conv.Subscribe(func(m buzzsway.Message) {
			printMessage(m, session.Username)
		})

		history, err := conv.LoadHistory(ctx)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}
		for _, m := range history {
			printMessage(m, session.Username)
		}
		if presence.IsOnline(peer) {
			fmt.Printf("-- @%s is online\n", peer)
		}

		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if err := conv.Send(ctx, line); err != nil {
					fmt.Printf("-- send failed: %v\n", err)
				}
			}
		}()

		<-ctx.Done()
		fmt.Println("\nGoodbye.")
		return nil
	},
}

// ============================================================================
// chat online
// ============================================================================

var chatOnlineCmd = &cobra.Command{
	Use:   "online",
	Short: "List users currently online",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getAuthedClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		channel := client.NewChannel(nil)
		if err := channel.Connect(ctx, session); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer channel.Disconnect()

		presence := buzzsway.NewPresenceTracker(channel, nil)
		presence.Start(session)
		defer presence.Stop()

		// Wait for the first roster push.
		roster := make(chan []string, 1)
		detach := presence.Subscribe(func(online []string) {
			select {
			case roster <- online:
			default:
			}
		})
		defer detach()

		select {
		case online := <-roster:
			if len(online) == 0 {
				fmt.Println("No one else is online.")
				return nil
			}
			for _, name := range online {
				fmt.Printf("  @%s\n", name)
			}
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for the online roster")
		}
		return nil
	},
}

func printMessage(m buzzsway.Message, self string) {
	who := "@" + m.Sender
	if m.Sender == self {
		who = "you"
	}
	fmt.Printf("[%s] %s: %s\n", timeAgo(m.CreatedAt), who, m.Content)
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	chatCmd.AddCommand(chatHistoryCmd)
	chatCmd.AddCommand(chatSendCmd)
	chatCmd.AddCommand(chatWatchCmd)
	chatCmd.AddCommand(chatOnlineCmd)

	rootCmd.AddCommand(chatCmd)
}
