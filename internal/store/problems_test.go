package store_test

import (
	"context"
	"testing"

	"coderacer-matchmaker/internal/store"
	"coderacer-matchmaker/internal/testutil"
)

func TestEnsureDefaultProblemsIdempotent(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()

	ctx := context.Background()
	if err := st.EnsureDefaultProblems(ctx); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	if err := st.EnsureDefaultProblems(ctx); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	easy, err := st.ListProblemsByDifficulty(ctx, "Easy")
	if err != nil {
		t.Fatalf("list easy: %v", err)
	}
	if len(easy) != 1 || easy[0].ID != "two-sum" {
		t.Fatalf("unexpected easy problems: %+v", easy)
	}
}

func TestListProblemsByDifficultyFilters(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()

	ctx := context.Background()
	if err := st.CreateProblem(ctx, store.Problem{ID: "p1", Title: "A", Difficulty: "Easy"}); err != nil {
		t.Fatalf("create p1: %v", err)
	}
	if err := st.CreateProblem(ctx, store.Problem{ID: "p2", Title: "B", Difficulty: "Hard"}); err != nil {
		t.Fatalf("create p2: %v", err)
	}

	hard, err := st.ListProblemsByDifficulty(ctx, "Hard")
	if err != nil {
		t.Fatalf("list hard: %v", err)
	}
	if len(hard) != 1 || hard[0].ID != "p2" {
		t.Fatalf("unexpected hard problems: %+v", hard)
	}
}
