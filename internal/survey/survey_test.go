package survey

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/events"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

func TestDefaultBankLoads(t *testing.T) {
	b := Default()
	require.NotEmpty(t, b.Questions)
	assert.Equal(t, "goal", b.GoalQuestion)
	assert.GreaterOrEqual(t, len(b.Fallback), MaxSuggestions)

	_, err := Load([]byte("questions:\n  - id: a\n    kind: single\n    options: [x]\ngoal_question: missing\n"))
	require.Error(t, err)
	_, err = Load([]byte("questions:\n  - id: a\n    kind: pick\n    options: [x]\n"))
	require.Error(t, err)
}

func TestRecommendWithoutResolver(t *testing.T) {
	b := Default()
	ctx := context.Background()
	cases := []struct {
		name    string
		answers Answers
		want    []string
	}{
		{
			name:    "answers in bank order then truncated",
			answers: Answers{"stress": {"High"}, "sleep": {"I have trouble falling asleep"}},
			want:    []string{"Magnesium Glycinate", "Melatonin", "Ashwagandha"},
		},
		{
			name:    "multiple choice matches each option once",
			answers: Answers{"diet": {"Vegan", "Little or no fish"}},
			want:    []string{"Vitamin B Complex", "Iron Bisglycinate", "Omega-3 Fish Oil"},
		},
		{
			name:    "goal only",
			answers: Answers{"goal": {"immunity"}},
			want:    []string{"Vitamin C", "Zinc Picolinate", "Elderberry Extract"},
		},
		{
			name:    "goal follows question matches",
			answers: Answers{"digestion": {"Bloating or irregularity"}, "goal": {"Muscle"}},
			want:    []string{"Probiotic Complex", "Whey Protein", "Creatine Monohydrate"},
		},
		{
			name:    "nothing matches so fallback fills",
			answers: Answers{"digestion": {"No issues"}},
			want:    []string{"Multivitamin", "Vitamin D3", "Omega-3 Fish Oil"},
		},
		{
			name:    "partial match is backfilled without duplicates",
			answers: Answers{"age": {"30-50"}},
			want:    []string{"Multivitamin", "Vitamin D3", "Omega-3 Fish Oil"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recs, err := b.Recommend(ctx, tc.answers, nil)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, Names(recs)); diff != "" {
				t.Fatalf("Recommend mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRecommendDropsUnknownSupplements(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewService(nil, 0)
	off := false
	for _, req := range []catalog.CreateRequest{
		{Name: "Melatonin", Category: "sleep", PriceCents: 799, Stock: 10},
		{Name: "Multivitamin", Category: "vitamins", PriceCents: 1599, Stock: 10},
		{Name: "Vitamin D3", Category: "vitamins", PriceCents: 999, Stock: 10},
		{Name: "Magnesium Glycinate", Category: "minerals", PriceCents: 1299, Stock: 10, Active: &off},
	} {
		_, err := cat.Create(ctx, req)
		require.NoError(t, err)
	}

	recs, err := Default().Recommend(ctx, Answers{"sleep": {"I have trouble falling asleep"}}, cat)
	require.NoError(t, err)
	assert.Equal(t, []string{"Melatonin", "Multivitamin", "Vitamin D3"}, Names(recs))
	for _, r := range recs {
		require.NotNil(t, r.Supplement)
		assert.Equal(t, r.Name, r.Supplement.Name)
	}

	recs, err = Default().Recommend(ctx, Answers{"goal": {"Immunity"}}, catalog.NewService(nil, 0))
	require.NoError(t, err)
	assert.Empty(t, recs, "empty catalog resolves nothing")
}

func TestNormalize(t *testing.T) {
	b := Default()
	got, err := b.Normalize(Answers{"age": {" over 50 "}, "diet": {"vegan", "Vegan", ""}, "energy": {}})
	require.NoError(t, err)
	assert.Equal(t, Answers{"age": {"Over 50"}, "diet": {"Vegan"}}, got)

	for _, bad := range []Answers{
		{"shoe_size": {"42"}},
		{"age": {"Ancient"}},
		{"sleep": {"I sleep well", "I have trouble falling asleep"}},
	} {
		_, err := b.Normalize(bad)
		require.Error(t, err)
		assert.True(t, validation.Is(err))
	}
}

func TestSubmitStoresAndPublishes(t *testing.T) {
	rec := &events.Recorder{}
	svc := NewService(nil, Default(), nil, rec)
	ctx := context.Background()

	_, _, err := svc.Submit(ctx, "", Answers{})
	require.Error(t, err)

	sub, recs, err := svc.Submit(ctx, "usr_1", Answers{"goal": {"Sleep"}})
	require.NoError(t, err)
	assert.Equal(t, Names(recs), sub.Recommendations)
	assert.Equal(t, []string{events.SurveySubmitted}, rec.Topics())

	time.Sleep(time.Millisecond)
	_, _, err = svc.Submit(ctx, "", Answers{"goal": {"Energy"}})
	require.NoError(t, err)

	page, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Empty(t, page.Items[0].UserID, "newest first")

	page, err = svc.List(ctx, Filter{UserID: "usr_1"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, sub.ID, page.Items[0].ID)
}

func TestHandlers(t *testing.T) {
	svc := NewService(nil, Default(), nil, &events.Recorder{})
	iss := auth.NewIssuer("test-secret-0123456789", time.Hour)
	mux := http.NewServeMux()
	svc.Register(mux)
	h := iss.Middleware(mux)

	do := func(method, path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodGet, "/v1/survey/questions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "suggestions")

	rec = do(http.MethodPost, "/v1/survey/recommendations", "", `{"answers":{"goal":["Muscle"]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Items []Recommendation `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Whey Protein", body.Items[0].Name)

	rec = do(http.MethodPost, "/v1/survey/recommendations", "", `{"answers":{"goal":["Flying"]}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	customer, _, _ := iss.Issue("usr_1", "c@example.com", auth.RoleCustomer)
	doctor, _, _ := iss.Issue("usr_2", "d@example.com", auth.RoleDoctor)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/v1/survey/submissions", "", "").Code)
	assert.Equal(t, http.StatusForbidden, do(http.MethodGet, "/v1/survey/submissions", customer, "").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/v1/survey/submissions", doctor, "").Code)
}

func TestSeedCatalogCoversBank(t *testing.T) {
	ctx := context.Background()
	reqs, err := catalog.SeedData()
	require.NoError(t, err)
	cat := catalog.NewService(nil, 0)
	_, err = cat.Seed(ctx, reqs)
	require.NoError(t, err)

	b := Default()
	names := append([]string{}, b.Fallback...)
	for _, q := range b.Questions {
		for _, s := range q.Suggestions {
			names = append(names, s.Supplements...)
		}
	}
	for _, list := range b.Goals {
		names = append(names, list...)
	}
	for _, name := range names {
		_, found, err := cat.FindByName(ctx, name)
		require.NoError(t, err)
		assert.True(t, found, name)
	}
}
