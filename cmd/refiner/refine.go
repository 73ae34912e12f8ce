package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyzr/refinery/cmd/refiner/container"
	"github.com/lyzr/refinery/cmd/refiner/models"
	"github.com/lyzr/refinery/common/bootstrap"
)

var (
	flagOwner string
	flagTopic string
	flagStyle string
	flagVoice string
)

var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Run one refinement loop and print the finished post",
	RunE:  runRefine,
}

func init() {
	refineCmd.Flags().StringVar(&flagOwner, "owner", "", "owner id the post is created for")
	refineCmd.Flags().StringVar(&flagTopic, "topic", "", "what the post is about")
	refineCmd.Flags().StringVar(&flagStyle, "style", "", "writing style, e.g. casual or technical")
	refineCmd.Flags().StringVar(&flagVoice, "voice", "", "free-form description of the author's voice")
	refineCmd.MarkFlagRequired("owner")
	refineCmd.MarkFlagRequired("topic")
}

func runRefine(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// No HTTP surface, so skip the limiter and pprof
	components, err := bootstrap.Setup(ctx, serviceName,
		bootstrap.WithoutLimiter(),
		bootstrap.WithoutTelemetry(),
	)
	if err != nil {
		return fmt.Errorf("failed to bootstrap %s: %w", serviceName, err)
	}
	defer components.Shutdown(ctx)

	c, err := container.NewContainer(ctx, components)
	if err != nil {
		return err
	}

	post, err := c.Refinement.Refine(ctx, flagOwner, models.RefineRequest{
		Topic:        flagTopic,
		Style:        flagStyle,
		VoiceProfile: flagVoice,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(post)
}
