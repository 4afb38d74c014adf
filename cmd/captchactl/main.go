package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jmerrifield20/captcha/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

var (
	serverURL string
	cfgFile   string
	timeout   time.Duration
	asJSON    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "captchactl",
	Short: "Command-line client for captchad",
	Long: `captchactl drives a running captchad server: issue and check challenges,
and trigger garbage collection by hand.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.captcha")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("CAPTCHACTL")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.captcha/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "captchad base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print the raw result envelope as JSON")

	rootCmd.AddCommand(createCmd, verifyCmd, deleteCmd, sweepCmd, reconcileCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	return client.New(serverURL, client.WithTimeout(timeout))
}

// printResult writes res and returns an error for non-success envelopes so
// the process exits non-zero.
func printResult(res *client.Result, okMsg string) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if res.OK() {
		fmt.Println(okMsg)
	}
	if !res.OK() {
		return fmt.Errorf("%s (%s, code %d)", res.Message, res.Type, res.Code)
	}
	return nil
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new challenge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ch, err := c.Create(context.Background())
		if err != nil {
			return err
		}
		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(ch)
		}
		fmt.Printf("ID:    %s\n", ch.ID)
		fmt.Printf("Image: %s\n", ch.ImageURL)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <id> <code>",
	Short: "Check a code against a challenge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Verify(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		return printResult(res, "✓ code accepted")
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a challenge and its image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Delete(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printResult(res, "deleted "+args[0])
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove every expired challenge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Sweep(context.Background())
		if err != nil {
			return err
		}
		return printResult(res, "sweep complete")
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Remove images no challenge references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		removed, res, err := c.Reconcile(context.Background())
		if err != nil {
			return err
		}
		return printResult(res, fmt.Sprintf("removed %d orphaned image(s)", removed))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the captchactl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("captchactl %s\n", version)
	},
}
