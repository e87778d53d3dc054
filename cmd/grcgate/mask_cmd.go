package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grcgate/grcgate/internal/output"
	"github.com/grcgate/grcgate/internal/privacy"
)

func newMaskCmd(opts *rootOptions) *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "mask [text...]",
		Short: "Mask personal data in text using the configured privacy rules",
		Long: "Mask personal data in the arguments, or in stdin when no arguments are given. " +
			"Tokenization is never applied here because tokens would not outlive the command.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := opts.commandLogger()
			if err != nil {
				return err
			}

			privacyCfg := cfg.Privacy.Clone()
			privacyCfg.EnableTokenization = false
			if level != "" {
				privacyCfg.MaskingLevel = level
			}
			protector, err := privacy.NewProtector(privacyCfg, nil, logger)
			if err != nil {
				return err
			}
			defer protector.Close()

			text := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = strings.TrimRight(string(b), "\n")
			}

			masked := protector.ProtectString(cmd.Context(), text)
			if opts.isTable() {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), masked)
				return err
			}
			f, err := opts.formatter()
			if err != nil {
				return err
			}
			return output.Print(cmd.OutOrStdout(), f, map[string]string{
				"text":          masked,
				"masking_level": privacyCfg.MaskingLevel,
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Override the masking level (light, moderate, strict)")
	return cmd
}
