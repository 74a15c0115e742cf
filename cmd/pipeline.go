package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/internal/pipeline"
)

var (
	pipelineCaseID    int64
	pipelineSessionID string
	sectionFiles      = map[model.SectionType]*string{
		model.SectionFacts:      new(string),
		model.SectionDiscussion: new(string),
		model.SectionQuestions:  new(string),
		model.SectionConclusion: new(string),
	}
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the full 3-pass extraction pipeline over a case",
	Long:  "Runs all nine concept extractions in pass order, records each as a provenance activity under the active workflow version, and publishes converted nodes to the graph sink.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sections := make(map[model.SectionType]string)
		for section, path := range sectionFiles {
			if *path == "" {
				continue
			}
			data, err := os.ReadFile(*path)
			if err != nil {
				return eris.Wrapf(err, "read %s section", section)
			}
			sections[section] = string(data)
		}
		if len(sections) == 0 {
			return eris.New("at least one section file is required")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close(cmd.Context())

		result, err := env.Pipeline.Run(cmd.Context(), pipeline.RunInput{
			CaseID:    pipelineCaseID,
			SessionID: pipelineSessionID,
			Sections:  sections,
			Progress: func(ev model.ProgressEvent) {
				zap.L().Info("pipeline progress",
					zap.Int("pass", ev.Pass),
					zap.String("concept", string(ev.Concept)),
					zap.Int("classes", ev.Outcome.Classes),
					zap.Int("individuals", ev.Outcome.Individuals),
					zap.String("error", ev.Outcome.Error),
					zap.Int("completed", ev.Completed),
					zap.Int("total", ev.Total),
				)
			},
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	pipelineCmd.Flags().Int64Var(&pipelineCaseID, "case", 0, "case identifier")
	pipelineCmd.Flags().StringVar(&pipelineSessionID, "session", "", "session identifier (generated when empty)")
	pipelineCmd.Flags().StringVar(sectionFiles[model.SectionFacts], "facts-file", "", "facts section file")
	pipelineCmd.Flags().StringVar(sectionFiles[model.SectionDiscussion], "discussion-file", "", "discussion section file")
	pipelineCmd.Flags().StringVar(sectionFiles[model.SectionQuestions], "questions-file", "", "questions section file")
	pipelineCmd.Flags().StringVar(sectionFiles[model.SectionConclusion], "conclusion-file", "", "conclusion section file")
	pipelineCmd.MarkFlagRequired("case")
	rootCmd.AddCommand(pipelineCmd)
}
