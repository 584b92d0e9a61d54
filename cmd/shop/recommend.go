package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/server"
	"github.com/eren2212/supplementApp-sub000/internal/survey"
)

var (
	answerFlags []string
	useDB       bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Run the supplement survey from the command line",
	Long: `recommend answers the survey offline and prints up to three suggestions
as JSON. Each --answer is question_id=option and may repeat for
multiple-choice questions.

Suggestions are resolved against the bundled starter catalog, or against
the configured database with --db.`,
	Example: `  shop recommend --answer goal=Sleep --answer stress=High
  shop recommend --answer diet=Vegan --answer "diet=Little or no fish" --db`,
	RunE: runRecommend,
}

func init() {
	recommendCmd.Flags().StringArrayVarP(&answerFlags, "answer", "a", nil, "answer as question_id=option (repeatable)")
	recommendCmd.Flags().BoolVar(&useDB, "db", false, "resolve suggestions against the configured database")
}

// parseAnswers turns id=option flags into survey answers.
func parseAnswers(flags []string) (survey.Answers, error) {
	answers := survey.Answers{}
	for _, f := range flags {
		id, option, ok := strings.Cut(f, "=")
		id, option = strings.TrimSpace(id), strings.TrimSpace(option)
		if !ok || id == "" || option == "" {
			return nil, fmt.Errorf("answer %q: want question_id=option", f)
		}
		answers[id] = append(answers[id], option)
	}
	return answers, nil
}

func runRecommend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	bank := survey.Default()
	answers, err := parseAnswers(answerFlags)
	if err != nil {
		return err
	}
	if answers, err = bank.Normalize(answers); err != nil {
		return err
	}
	if len(answers) == 0 {
		return fmt.Errorf("at least one --answer is required")
	}

	emit := func(r survey.Resolver) error {
		recs, err := bank.Recommend(ctx, answers, r)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"answers": answers, "items": recs})
	}

	if useDB {
		return withStores(ctx, func(st *server.Stores) error { return emit(st.Catalog) })
	}
	reqs, err := catalog.SeedData()
	if err != nil {
		return err
	}
	cat := catalog.NewService(nil, 0)
	if _, err := cat.Seed(ctx, reqs); err != nil {
		return err
	}
	return emit(cat)
}
