package main

import (
	"context"
	"fmt"
	"time"

	pairchat "github.com/pairchat/pairchat-go"
	"github.com/spf13/cobra"
)

var contactsSearchTerm string

func init() {
	contactsCmd.Flags().StringVar(&contactsSearchTerm, "search", "", "filter contacts by name")
	rootCmd.AddCommand(contactsCmd)
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List contacts, active conversations first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireAuth()
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		session := pairchat.NewSession(client)
		session.SetUser(ptr(currentUser(cfg)))
		if err := session.Refresh(ctx); err != nil {
			return fmt.Errorf("load contacts: %w", err)
		}

		entries := session.Contacts()
		if contactsSearchTerm != "" {
			entries = session.SearchContacts(contactsSearchTerm)
		}
		if len(entries) == 0 {
			fmt.Println("No contacts found.")
			return nil
		}

		for _, e := range entries {
			if e.HasChat() {
				fmt.Printf("%-20s  %s\n", e.User.Name(), truncate(e.LastMessage, 50))
			} else {
				fmt.Printf("%-20s  (no messages yet)\n", e.User.Name())
			}
		}
		return nil
	},
}

func ptr(u pairchat.User) *pairchat.User { return &u }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
