package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiFlag    string
	threadFlag string
	phoneFlag  string
	rootCmd    = &cobra.Command{
		Use:   "billiectl",
		Short: "CLI client for the Billie conversation service REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Service base URL")

	chatCmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one message on a conversation thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if threadFlag == "" || phoneFlag == "" {
				return fmt.Errorf("--thread and --phone required")
			}
			return runChat(apiFlag, threadFlag, phoneFlag, args[0], os.Stdout)
		},
	}
	chatCmd.Flags().StringVarP(&threadFlag, "thread", "t", "", "Thread ID (required)")
	chatCmd.Flags().StringVarP(&phoneFlag, "phone", "p", "", "Caller phone number (required)")
	rootCmd.AddCommand(chatCmd)

	clearCmd := &cobra.Command{
		Use:   "clear-thread [thread-id]",
		Short: "Delete a thread's conversation state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClearThread(apiFlag, args[0], os.Stdout)
		},
	}
	rootCmd.AddCommand(clearCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Clear all threads idle past the session TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(apiFlag, os.Stdout)
		},
	}
	rootCmd.AddCommand(sweepCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify [phone]",
		Short: "Verify a phone number against the customer directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, _ := cmd.Flags().GetString("session")
			return runVerify(apiFlag, args[0], session, os.Stdout)
		},
	}
	verifyCmd.Flags().StringP("session", "s", "", "Session ID to tag the verification with")
	rootCmd.AddCommand(verifyCmd)

	statusCmd := &cobra.Command{
		Use:   "verification-status [phone]",
		Short: "Check whether a phone number is verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerificationStatus(apiFlag, args[0], os.Stdout)
		},
	}
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
