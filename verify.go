package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/example/authdoc/internal/engine"
	"github.com/example/authdoc/internal/verification"
)

type verifyOptions struct {
	identity     string
	documentPath string
	templatePath string
	policy       string
	policyFile   string
	textEngine   string
	jsonOutput   bool
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	opts := verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Score a local document image and print the verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.cfg
			if opts.policy != "" {
				cfg.FusionPolicy = opts.policy
			}
			if opts.policyFile != "" {
				cfg.PolicyFile = opts.policyFile
			}
			if opts.textEngine != "" {
				cfg.TextEngine = opts.textEngine
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			req, err := loadRequest(opts)
			if err != nil {
				return err
			}

			eng, cleanup, err := buildEngine(cmd.Context(), cfg, ctx.logger)
			if err != nil {
				return err
			}
			defer cleanup()

			verdict, err := eng.Verify(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeVerdictJSON(cmd.OutOrStdout(), verdict)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderVerdict(verdict))
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.identity, "identity", "", "Identity number printed on the document")
	flags.StringVar(&opts.documentPath, "document", "", "Path to the document image")
	flags.StringVar(&opts.templatePath, "template", "", "Path to an optional reference template image")
	flags.StringVar(&opts.policy, "policy", "", "Fusion policy name (overrides FUSION_POLICY)")
	flags.StringVar(&opts.policyFile, "policy-file", "", "TOML file with custom fusion policies")
	flags.StringVar(&opts.textEngine, "text-engine", "", "Text matcher: grpc, openai or disabled")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print the verdict as JSON")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("document")

	return cmd
}

func loadRequest(opts verifyOptions) (*verification.Request, error) {
	document, err := readImageFile(opts.documentPath)
	if err != nil {
		return nil, err
	}
	var template *verification.Image
	if opts.templatePath != "" {
		img, err := readImageFile(opts.templatePath)
		if err != nil {
			return nil, err
		}
		template = &img
	}
	return verification.NewRequest(uuid.NewString(), opts.identity, document, template)
}

func readImageFile(path string) (verification.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return verification.Image{}, fmt.Errorf("read %s: %w", path, err)
	}
	return verification.NewImage(data, mimetype.Detect(data).String()), nil
}

func writeVerdictJSON(w io.Writer, verdict engine.Verdict) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(verdict)
}

func renderVerdict(verdict engine.Verdict) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault
	tw.SetTitle("request " + verdict.RequestID)
	tw.AppendHeader(table.Row{"Metric", "Score", "Outcome", "Latency"})

	for _, metric := range verification.Metrics() {
		score, ok := verdict.Scores[metric]
		if !ok || !score.Available {
			tw.AppendRow(table.Row{metric, "-", verification.OutcomeSkipped, "-"})
			continue
		}
		outcome := string(score.Outcome)
		if score.Defaulted {
			outcome += " (default)"
		}
		tw.AppendRow(table.Row{metric, strconv.FormatFloat(score.Value, 'f', 3, 64), outcome, score.Latency.Round(time.Millisecond)})
	}

	tw.AppendFooter(table.Row{
		"final",
		strconv.FormatFloat(verdict.Result.FinalScore, 'f', 3, 64),
		verdict.Result.Classification,
		verdict.Elapsed.Round(time.Millisecond),
	})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 4, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	return tw.Render()
}
