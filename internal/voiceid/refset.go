package voiceid

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/orderlens/orderlens-backend/internal/clients/gcs"
	"github.com/orderlens/orderlens-backend/internal/platform/apperr"
	"github.com/orderlens/orderlens-backend/internal/types"
)

// Reference is one worker voice sample: a labelled unit embedding, bound
// to a worker when the label resolves.
type Reference struct {
	Label     string
	WorkerID  *uuid.UUID
	Embedding []float32
}

// folderCandidates are the sample-folder naming conventions seen across
// locations, tried in order before falling back to a fuzzy scan.
func folderCandidates(locationName string) []string {
	return []string{
		locationName + " Voice Samples",
		strings.ReplaceAll(locationName, " ", "_") + "_Voice_Samples",
		locationName + " Voices",
		"Voice Samples " + locationName,
	}
}

// ResolveSampleFolder finds the FileShare folder holding a location's
// worker voice samples.
func ResolveSampleFolder(ctx context.Context, share gcs.FileShare, locationName string) (string, error) {
	folders, err := share.ListFolders(ctx)
	if err != nil {
		return "", fmt.Errorf("list share folders: %w", err)
	}

	have := map[string]string{}
	for _, f := range folders {
		have[strings.ToLower(f)] = f
	}
	for _, cand := range folderCandidates(locationName) {
		if f, ok := have[strings.ToLower(cand)]; ok {
			return f, nil
		}
	}

	// Fuzzy: a folder mentioning the location plus "voice" and "sample".
	locLower := strings.ToLower(locationName)
	for _, f := range folders {
		fl := strings.ToLower(f)
		if strings.Contains(fl, locLower) && strings.Contains(fl, "voice") && strings.Contains(fl, "sample") {
			return f, nil
		}
	}
	return "", apperr.E(apperr.KindInputMalformed, "voiceid.resolve_folder",
		fmt.Errorf("no voice sample folder for location %q", locationName))
}

// LabelFromFilename derives the human label: extension stripped,
// underscores become spaces.
func LabelFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.TrimSpace(strings.ReplaceAll(base, "_", " "))
}

// BindLabel maps a sample label to a worker id: exact legal-name match
// first, then case-insensitive equality on the last name token.
func BindLabel(label string, workers []*types.Worker) *uuid.UUID {
	for _, w := range workers {
		if w.LegalName == label {
			id := w.ID
			return &id
		}
	}

	tokens := strings.Fields(label)
	if len(tokens) == 0 {
		return nil
	}
	last := strings.ToLower(tokens[len(tokens)-1])
	for _, w := range workers {
		nameTokens := strings.Fields(w.LegalName)
		if len(nameTokens) == 0 {
			continue
		}
		if strings.ToLower(nameTokens[len(nameTokens)-1]) == last {
			id := w.ID
			return &id
		}
	}
	return nil
}
