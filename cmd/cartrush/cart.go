package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/cartrush"
)

// cartCmd prints the current cart.
var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Print the current cart",
	Long: `Read the cart with the configured credentials and print it as JSON.

Example:
  cartrush cart -c cartrush.yaml`,
	RunE: runCart,
}

func init() {
	rootCmd.AddCommand(cartCmd)
	addConfigFlag(cartCmd)
}

func runCart(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	cart, err := a.engine.Cart(cmd.Context())
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, cart.Raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(cart.Raw)
	}
	fmt.Fprintln(cmd.OutOrStdout(), buf.String())
	return nil
}

// authCmd checks whether the configured credentials are accepted.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Check credentials",
	Long: `Read the cart with the configured credentials and report whether the
service accepts them. Exits 1 when it does not.

Example:
  cartrush auth -c cartrush.yaml`,
	RunE: runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
	addConfigFlag(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	res := a.engine.ProbeAuth(cmd.Context())
	out := cmd.OutOrStdout()
	if res.OK {
		fmt.Fprintln(out, stateStyle(cartrush.StateSuccess).Render("ok")+fmt.Sprintf("HTTP %d", res.Status))
		return nil
	}

	reason := res.Reason
	if reason == "" {
		reason = fmt.Sprintf("HTTP %d", res.Status)
	}
	fmt.Fprintln(out, stateStyle(cartrush.StateError).Render("rejected")+reason)
	return fmt.Errorf("credentials not accepted: %s", reason)
}
