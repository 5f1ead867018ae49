package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Nubiru/bhaskara-sub000/internal/progress"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate REF",
		Short: "Verify a stored artifact against its manifest",
		Long: `Verify that the artifact REF ("{download id}/{file name}", as printed by
export and batch) exists and that its size and SHA-256 checksum match the
manifest written when it was exported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runValidate(cmd.Context(), args[0])
		},
	}
}

func (a *app) runValidate(ctx context.Context, ref string) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	bkt, store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer bkt.Close()

	result, err := store.Validate(ctx, ref)
	if err != nil {
		return exitWith(ExitStorageError, err)
	}

	fmt.Fprintf(a.stdout, "File: %s\n", store.Key(ref))
	fmt.Fprintf(a.stdout, "Size: %s\n", progress.FormatBytes(result.Size))

	if result.Valid {
		fmt.Fprintln(a.stdout, "Status: VALID")
		return nil
	}

	fmt.Fprintln(a.stdout, "Status: INVALID")
	if len(result.Errors) > 0 {
		fmt.Fprintln(a.stdout, "\nErrors:")
		for _, e := range result.Errors {
			fmt.Fprintf(a.stdout, "  - %s\n", e)
		}
	}
	return exitWith(ExitValidationFailed, nil)
}
