// Package helpers holds fixtures shared by package tests.
package helpers

import (
	"context"
	"testing"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/pipeline"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/repository"
)

// NewTestSQLiteStore returns an in-memory store closed at test cleanup.
func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// StaticSteps returns a provider whose every step answers with text.
func StaticSteps(text string) pipeline.StepProvider {
	return pipeline.StepProviderFunc(func(domain.Run) map[domain.StepID]pipeline.Operation {
		ops := make(map[domain.StepID]pipeline.Operation, len(pipeline.Catalogue))
		for _, s := range pipeline.Catalogue {
			ops[s.ID] = func(context.Context, int, pipeline.LogFunc) (string, error) {
				return text, nil
			}
		}
		return ops
	})
}
