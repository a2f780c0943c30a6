package main

import (
	"context"
	"fmt"
	"time"

	buzzsway "github.com/buzzsway/buzzsway-go"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string

	registerUsername string
	registerEmail    string
	registerPassword string
)

// ============================================================================
// login
// ============================================================================

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and save the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		auth, err := client.Auth().Login(ctx, &buzzsway.Credentials{
			Email:    loginEmail,
			Password: loginPassword,
		})
		if err != nil {
			return fmt.Errorf("%s", buzzsway.UserMessage(err, "Authentication failed."))
		}

		if err := getSessionStore().Save(auth.Session()); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}

		fmt.Printf("Logged in as %s.\n", auth.User.Username)
		return nil
	},
}

// ============================================================================
// register
// ============================================================================

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and save the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		auth, err := client.Auth().Register(ctx, &buzzsway.RegisterOptions{
			Username: registerUsername,
			Email:    registerEmail,
			Password: registerPassword,
		})
		if err != nil {
			return fmt.Errorf("%s", buzzsway.UserMessage(err, "Registration failed."))
		}

		if err := getSessionStore().Save(auth.Session()); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}

		fmt.Printf("Registered and logged in as %s.\n", auth.User.Username)
		return nil
	},
}

// ============================================================================
// logout
// ============================================================================

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getSessionStore().Clear(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

// ============================================================================
// whoami
// ============================================================================

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getAuthedClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		me, err := client.Auth().Me(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Username: %s\n", me.Username)
		fmt.Printf("Email:    %s\n", me.Email)
		fmt.Printf("User ID:  %s\n", me.ID)
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password")
	_ = loginCmd.MarkFlagRequired("email")
	_ = loginCmd.MarkFlagRequired("password")

	registerCmd.Flags().StringVar(&registerUsername, "username", "", "Desired username")
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "Account email")
	registerCmd.Flags().StringVar(&registerPassword, "password", "", "Account password")
	_ = registerCmd.MarkFlagRequired("username")
	_ = registerCmd.MarkFlagRequired("email")
	_ = registerCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}
