package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string

	signupEmail    string
	signupPassword string
	signupUsername string
)

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password")
	loginCmd.MarkFlagRequired("email")
	loginCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(loginCmd)

	signupCmd.Flags().StringVar(&signupEmail, "email", "", "account email")
	signupCmd.Flags().StringVar(&signupPassword, "password", "", "account password")
	signupCmd.Flags().StringVar(&signupUsername, "username", "", "display name")
	signupCmd.MarkFlagRequired("email")
	signupCmd.MarkFlagRequired("password")
	signupCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(signupCmd)

	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		user, err := client.Auth().SignIn(ctx, loginEmail, loginPassword)
		if err != nil {
			return fmt.Errorf("sign in failed: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth.Token = client.Token()
		cfg.Auth.UserID = user.ID
		cfg.Auth.Email = user.Email
		cfg.Auth.Username = user.Username
		if err := saveConfig(cfg); err != nil {
			return err
		}

		fmt.Printf("Signed in as %s\n", user.Name())
		return nil
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		user, err := client.Auth().SignUp(ctx, signupEmail, signupPassword, signupUsername)
		if err != nil {
			return fmt.Errorf("sign up failed: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth.Token = client.Token()
		cfg.Auth.UserID = user.ID
		cfg.Auth.Email = user.Email
		cfg.Auth.Username = user.Username
		if err := saveConfig(cfg); err != nil {
			return err
		}

		fmt.Printf("Account created. Signed in as %s\n", user.Name())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := client.Auth().SignOut(ctx); err != nil {
			fmt.Printf("Server sign-out failed (%v); clearing local session anyway.\n", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return err
		}

		fmt.Println("Signed out.")
		return nil
	},
}
