package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/domain"
	"github.com/spigell/cv-intake/internal/extraction"
	"github.com/spigell/cv-intake/internal/scoring"
)

// jobFile is the offline description of a posting to score against.
type jobFile struct {
	Title          string   `mapstructure:"title"`
	Description    string   `mapstructure:"description"`
	RequiredSkills []string `mapstructure:"required-skills"`
	Company        *struct {
		Name     string         `mapstructure:"name"`
		Settings map[string]any `mapstructure:"settings"`
	} `mapstructure:"company"`
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a single resume against a job description file",
	Run: func(cmd *cobra.Command, _ []string) {
		score(cmd)
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().String("job", "", "job description file (yaml or json) with title, description and required-skills")
	scoreCmd.Flags().String("resume", "", "resume document (.pdf, .docx or .txt)")
	scoreCmd.Flags().Bool("fallback-only", false, "skip ai scoring and use the rule-based scorer")

	scoreCmd.MarkFlagRequired("job")
	scoreCmd.MarkFlagRequired("resume")
}

func score(cmd *cobra.Command) {
	ctx := cmd.Context()
	logger, config := setup()

	jobPath, _ := cmd.Flags().GetString("job")
	resumePath, _ := cmd.Flags().GetString("resume")
	fallbackOnly, _ := cmd.Flags().GetBool("fallback-only")

	req, err := loadJobFile(jobPath)
	if err != nil {
		logger.Fatal("reading job file", zap.Error(err))
	}

	data, err := os.ReadFile(resumePath)
	if err != nil {
		logger.Fatal("reading resume", zap.Error(err))
	}

	filename := filepath.Base(resumePath)
	parsed, err := extraction.Extract(filename, extraction.MediaType(filename, ""), data)
	if err != nil {
		logger.Fatal("extracting resume text", zap.String("filename", filename), zap.Error(err))
	}
	req.ResumeText = parsed.Text

	engine := scoring.NewEngine(nil, config.AI.Timeout, logger.Named("scoring"))
	if !fallbackOnly {
		assessor, err := newAssessor(ctx, config.AI, logger)
		if err != nil {
			logger.Fatal("building ai assessor", zap.Error(err))
		}
		engine = scoring.NewEngine(assessor, config.AI.Timeout, logger.Named("scoring"))
	}

	result := engine.Score(ctx, req)

	out := struct {
		domain.ScoringResult
		Links domain.ResumeLinks `json:"links"`
	}{ScoringResult: result, Links: parsed.Links}

	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logger.Fatal("encoding result", zap.Error(err))
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
}

// loadJobFile reads the job description with its own viper instance so the
// file never mixes with the service configuration.
func loadJobFile(path string) (domain.ScoringRequest, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return domain.ScoringRequest{}, err
	}

	var job jobFile
	if err := v.Unmarshal(&job); err != nil {
		return domain.ScoringRequest{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	if job.Title == "" {
		return domain.ScoringRequest{}, fmt.Errorf("%s: title is required", path)
	}

	req := domain.ScoringRequest{
		Job: domain.JobRequirements{
			Title:          job.Title,
			Description:    job.Description,
			RequiredSkills: job.RequiredSkills,
		},
	}

	if job.Company != nil {
		req.Company.Name = job.Company.Name
		if len(job.Company.Settings) > 0 {
			settings, err := json.Marshal(job.Company.Settings)
			if err != nil {
				return domain.ScoringRequest{}, fmt.Errorf("encoding company settings: %w", err)
			}
			req.Company.Settings = settings
		}
	}

	return req, nil
}
