package main

import (
	"context"
	"fmt"
	"time"

	buzzsway "github.com/buzzsway/buzzsway-go"
	"github.com/spf13/cobra"
)

var (
	editUsername string
	editEmail    string
	editBio      string
)

// ============================================================================
// users (parent command)
// ============================================================================

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Browse and manage users",
}

// ============================================================================
// users list
// ============================================================================

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getAuthedClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		users, err := client.Users().All(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		printUsers(users)
		return nil
	},
}

// ============================================================================
// users search
// ============================================================================

var usersSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getAuthedClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		users, err := client.Users().Search(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		printUsers(users)
		return nil
	},
}

func printUsers(users []buzzsway.User) {
	if len(users) == 0 {
		fmt.Println("No users found.")
		return
	}
	for _, u := range users {
		fmt.Printf("  %s  @%s  (%d followers, %d following)\n",
			u.ID, u.Username, len(u.Followers), len(u.Following))
	}
}

// ============================================================================
// users show
// ============================================================================

var usersShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a user's profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getAuthedClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		user, err := client.Users().Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Username:  %s\n", user.Username)
		if user.Bio != "" {
			fmt.Printf("Bio:       %s\n", user.Bio)
		}
		fmt.Printf("Followers: %d\n", len(user.Followers))
		fmt.Printf("Following: %d\n", len(user.Following))
		for _, id := range user.Followers {
			if id == session.UserID {
				fmt.Println("You follow this user.")
				break
			}
		}
		return nil
	},
}

// ============================================================================
// users follow
// ============================================================================

var usersFollowCmd = &cobra.Command{
	Use:   "follow <user-id>",
	Short: "Toggle following a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getAuthedClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		profile, err := client.Users().Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		engine := buzzsway.NewEngine(buzzsway.OptimisticConfig{}, nil)
		mutator := buzzsway.NewFollowMutator(engine, client.Users(), session, *profile)

		if err := mutator.ToggleFollow(ctx); err != nil {
			return fmt.Errorf("follow failed: %w", err)
		}

		if mutator.Following() {
			fmt.Printf("Now following @%s.\n", mutator.Profile().Username)
		} else {
			fmt.Printf("Unfollowed @%s.\n", mutator.Profile().Username)
		}
		return nil
	},
}

// ============================================================================
// users edit
// ============================================================================

var usersEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit your profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getAuthedClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		user, err := client.Users().Edit(ctx, &buzzsway.EditProfileOptions{
			Username: editUsername,
			Email:    editEmail,
			Bio:      editBio,
		})
		if err != nil {
			return fmt.Errorf("%s", buzzsway.UserMessage(err, "Failed to update profile."))
		}

		fmt.Printf("Profile updated: @%s\n", user.Username)
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	usersEditCmd.Flags().StringVar(&editUsername, "username", "", "New username")
	usersEditCmd.Flags().StringVar(&editEmail, "email", "", "New email")
	usersEditCmd.Flags().StringVar(&editBio, "bio", "", "New bio")

	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersSearchCmd)
	usersCmd.AddCommand(usersShowCmd)
	usersCmd.AddCommand(usersFollowCmd)
	usersCmd.AddCommand(usersEditCmd)

	rootCmd.AddCommand(usersCmd)
}
