package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/aodd/internal/model"
)

var activateCmd = &cobra.Command{
	Use:   "activate <display>",
	Short: "Put a display into AOD",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(model.ActionActivate, args[0])
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <display>",
	Short: "Take a display out of AOD",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(model.ActionDeactivate, args[0])
	},
}

func init() {
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(deactivateCmd)
}

func runControl(action model.Action, arg string) error {
	id, err := model.ParseDisplayID(arg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := newClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if action == model.ActionActivate {
		err = client.Activate(ctx, id)
	} else {
		err = client.Deactivate(ctx, id)
	}
	if err != nil {
		return err
	}

	logger.Debug("display updated", "display", id, "action", action)
	fmt.Printf("display %d: %s\n", id, action)
	return nil
}
