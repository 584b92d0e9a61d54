package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eren2212/supplementApp-sub000/internal/survey"
)

func TestParseAnswers(t *testing.T) {
	got, err := parseAnswers([]string{"goal=Sleep", "diet=Vegan", " diet = Little or no fish "})
	require.NoError(t, err)
	assert.Equal(t, survey.Answers{"goal": {"Sleep"}, "diet": {"Vegan", "Little or no fish"}}, got)

	for _, bad := range []string{"goal", "=Sleep", "goal="} {
		_, err := parseAnswers([]string{bad})
		assert.Error(t, err, bad)
	}
}

func runRecommendWith(t *testing.T, answers ...string) (*bytes.Buffer, error) {
	t.Helper()
	answerFlags, useDB = answers, false
	t.Cleanup(func() { answerFlags = nil })

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	return &out, runRecommend(cmd, nil)
}

func TestRecommendCommand(t *testing.T) {
	out, err := runRecommendWith(t, "goal=muscle")
	require.NoError(t, err)

	var body struct {
		Items []survey.Recommendation `json:"items"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Equal(t, []string{"Whey Protein", "Creatine Monohydrate", "Multivitamin"}, survey.Names(body.Items))
	require.NotNil(t, body.Items[0].Supplement)
	assert.Equal(t, int64(4499), body.Items[0].Supplement.PriceCents)

	_, err = runRecommendWith(t)
	assert.Error(t, err)
	_, err = runRecommendWith(t, "goal=Flying")
	assert.Error(t, err)
}
