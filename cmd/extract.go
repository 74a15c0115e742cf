package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/proethica/ontextract/internal/extraction"
	"github.com/proethica/ontextract/internal/model"
)

var (
	extractConcept string
	extractCaseID  int64
	extractSection string
	extractText    string
	extractFile    string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run a single concept extraction and print the result",
	Long:  "Extracts one concept type from the given text and prints the validated result as JSON. Nothing is persisted; use the pipeline command for recorded runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		concept := model.ConceptType(extractConcept)
		if !concept.Valid() {
			return eris.Errorf("unknown concept type %q", extractConcept)
		}

		text := extractText
		if extractFile != "" {
			data, err := os.ReadFile(extractFile)
			if err != nil {
				return eris.Wrapf(err, "read %s", extractFile)
			}
			text = string(data)
		}
		if text == "" {
			return eris.New("one of --text or --file is required")
		}

		section := model.SectionType(extractSection)
		if extractSection == "" {
			section = model.PassFor(concept).DefaultSection
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close(cmd.Context())

		ex, err := extraction.New(cmd.Context(), extraction.Deps{
			LLM:       env.LLM,
			Catalogue: env.Catalogue,
			Registry:  env.Registry,
			Templates: env.Templates,
			Anthropic: cfg.Anthropic,
			Settings:  cfg.Extraction,
		}, concept)
		if err != nil {
			return err
		}

		result, err := ex.Extract(cmd.Context(), model.ExtractionInput{
			Concept:    concept,
			SourceText: text,
			CaseID:     extractCaseID,
			Section:    section,
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
	extractCmd.Flags().StringVar(&extractConcept, "concept", "", "concept type (roles, states, resources, principles, obligations, constraints, capabilities, actions, events)")
	extractCmd.Flags().Int64Var(&extractCaseID, "case", 0, "case identifier")
	extractCmd.Flags().StringVar(&extractSection, "section", "", "section name (default per concept pass)")
	extractCmd.Flags().StringVar(&extractText, "text", "", "source text")
	extractCmd.Flags().StringVar(&extractFile, "file", "", "read source text from file")
	extractCmd.MarkFlagRequired("concept")
	rootCmd.AddCommand(extractCmd)
}
