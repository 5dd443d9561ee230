package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	pairchat "github.com/pairchat/pairchat-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <username>",
	Short: "Open an interactive conversation with a contact",
	Long: "Open a live conversation with a contact. Typed lines are sent as\n" +
		"messages; incoming messages print as they arrive.\n\n" +
		"Commands inside the chat:\n" +
		"  /delete <message-id>   delete one of your messages\n" +
		"  /edit <message-id> <text>   rewrite one of your messages\n" +
		"  /quit                  leave the conversation",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireAuth()
		client := getClient()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		session := pairchat.NewSession(client)
		defer session.Close()
		session.SetUser(ptr(currentUser(cfg)))
		if err := session.Refresh(ctx); err != nil {
			return fmt.Errorf("load contacts: %w", err)
		}

		peer, err := findContact(session, args[0])
		if err != nil {
			return err
		}

		self := currentUser(cfg)
		session.OnConversationUpdate(func(string) {
			printTranscript(session, self.ID, peer.Name())
		})
		if err := session.SelectPeer(ctx, peer); err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}

		fmt.Printf("Chatting with %s. Type a message, or /quit to leave.\n", peer.Name())

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/quit":
				return nil
			case strings.HasPrefix(line, "/delete "):
				id := strings.TrimSpace(strings.TrimPrefix(line, "/delete "))
				if err := session.DeleteMessage(ctx, id, nil); err != nil {
					fmt.Printf("delete failed: %v\n", err)
				}
			case strings.HasPrefix(line, "/edit "):
				rest := strings.TrimSpace(strings.TrimPrefix(line, "/edit "))
				id, text, ok := strings.Cut(rest, " ")
				if !ok {
					fmt.Println("usage: /edit <message-id> <text>")
					continue
				}
				if err := session.EditMessage(ctx, id, text); err != nil {
					fmt.Printf("edit failed: %v\n", err)
				}
			default:
				if _, _, err := session.SendMessage(ctx, line); err != nil {
					fmt.Printf("send failed: %v\n", err)
				}
			}
		}
		return scanner.Err()
	},
}

// findContact resolves a username against the session's contact list.
func findContact(session *pairchat.Session, username string) (pairchat.User, error) {
	for _, e := range session.Contacts() {
		if strings.EqualFold(e.User.Username, username) {
			return e.User, nil
		}
	}
	return pairchat.User{}, fmt.Errorf("no contact named %q", username)
}

// printTranscript renders the conversation, oldest first.
func printTranscript(session *pairchat.Session, selfID, peerName string) {
	for _, m := range session.Store().Sorted() {
		sender := peerName
		if m.SenderID == selfID {
			sender = "you"
		}
		edited := ""
		if m.Edited {
			edited = " (edited)"
		}
		fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt, sender, m.Text, edited)
	}
}
