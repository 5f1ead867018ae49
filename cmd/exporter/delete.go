package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newDeleteCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete REF",
		Short: "Remove a stored artifact and its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDelete(cmd.Context(), args[0], force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")
	return cmd
}

func (a *app) runDelete(ctx context.Context, ref string, force bool) error {
	if !force {
		fmt.Fprintf(a.stderr, "Delete artifact %s from %s? [y/N]: ", ref, a.cfg.Bucket)
		response, _ := bufio.NewReader(a.stdin).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(a.stderr, "Cancelled")
			return nil
		}
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	bkt, store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer bkt.Close()

	if err := store.Delete(ctx, ref); err != nil {
		return exitWith(ExitStorageError, err)
	}

	fmt.Fprintf(a.stderr, "[exporter] Deleted: %s\n", store.Key(ref))
	return nil
}
