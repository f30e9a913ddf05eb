package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxstudio/internal/app"
	"github.com/MrWong99/voxstudio/internal/config"
	"github.com/MrWong99/voxstudio/internal/observe"
	"github.com/MrWong99/voxstudio/internal/recognition"
	"github.com/MrWong99/voxstudio/pkg/audio"
)

func newVoicesCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "Inspect and manage voice profiles without starting the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Short:   "List pretrained and custom voice profiles",
			Example: `voxstudio voices list --model_dir pretrained_models/CosyVoice2-0.5B`,
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, ps, closeAll, err := o.offline(cmd)
				if err != nil {
					return err
				}
				defer closeAll()
				store := app.OpenStore(cmd.Context(), cfg, ps.Synthesis, observe.DefaultMetrics())
				for _, name := range store.List(cmd.Context()) {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Delete a custom voice profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, ps, closeAll, err := o.offline(cmd)
				if err != nil {
					return err
				}
				defer closeAll()
				store := app.OpenStore(cmd.Context(), cfg, ps.Synthesis, observe.DefaultMetrics())
				if err := store.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "voice %q deleted\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func newTranscribeCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe FILE",
		Short: "Print the text spoken in a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ps, closeAll, err := o.offline(cmd)
			if err != nil {
				return err
			}
			defer closeAll()
			clip, err := audio.ProbeClip(args[0])
			if err != nil {
				return err
			}
			bridge := recognition.New(app.NewRecognizer(cfg, ps), recognition.WithLanguage(cfg.Recognition.Language))
			text := bridge.Transcribe(cmd.Context(), &clip)
			fmt.Fprintln(cmd.OutOrStdout(), text)
			if recognition.IsFailure(text) {
				return fmt.Errorf("transcription failed")
			}
			return nil
		},
	}
}

// offline loads the config and engines for a one-shot subcommand.
func (o *rootOptions) offline(cmd *cobra.Command) (*config.Config, *app.Providers, func(), error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	ps, closeAll, err := buildProviders(cfg, reg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, ps, closeAll, nil
}
