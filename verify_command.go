package main

import (
	"errors"
	"fmt"

	"github.com/camden-git/photoner/utils"
	"github.com/spf13/cobra"
)

var errMetadataLost = errors.New("critical metadata was not preserved")

func newVerifyEXIFCommand(ctx *commandContext) *cobra.Command {
	var original, enhanced string

	cmd := &cobra.Command{
		Use:   "verify-exif",
		Short: "Compare the critical EXIF tags of an original and its enhanced copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := ctx.ensure(); err != nil {
				return err
			}
			cmp, err := utils.CompareMetadataFiles(original, enhanced)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Preserved: %d\n", len(cmp.Preserved))
			for _, name := range cmp.Missing {
				fmt.Fprintf(w, "Missing:   %s\n", name)
			}
			for _, name := range cmp.Changed {
				fmt.Fprintf(w, "Changed:   %s\n", name)
			}
			if cmp.Software != nil {
				fmt.Fprintf(w, "Software:  %s\n", *cmp.Software)
			}
			if !cmp.OK() {
				return errMetadataLost
			}
			fmt.Fprintln(w, "All critical tags preserved")
			return nil
		},
	}

	cmd.Flags().StringVar(&original, "original", "", "Original image")
	cmd.Flags().StringVar(&enhanced, "enhanced", "", "Enhanced image")
	_ = cmd.MarkFlagRequired("original")
	_ = cmd.MarkFlagRequired("enhanced")
	return cmd
}
