package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/antigravity-dev/tina/internal/store"
)

// extractStringFieldFromMeta pulls `field: "value"` (or single-quoted) out
// of a meta.ts file.
func extractStringFieldFromMeta(metaPath, field string) (string, bool) {
	content, err := os.ReadFile(metaPath)
	if err != nil {
		return "", false
	}
	pattern := regexp.MustCompile(regexp.QuoteMeta(field) + `\s*:\s*["']([^"']+)["']`)
	matches := pattern.FindSubmatch(content)
	if matches == nil {
		return "", false
	}
	return string(matches[1]), true
}

// ExtractTitleFromMeta reads the title field of a meta.ts file.
func ExtractTitleFromMeta(metaPath string) (string, bool) {
	return extractStringFieldFromMeta(metaPath, "title")
}

// ExtractPromptFromMeta reads the prompt field of a meta.ts file.
func ExtractPromptFromMeta(metaPath string) (string, bool) {
	return extractStringFieldFromMeta(metaPath, "prompt")
}

// TitleFromSlug humanizes a kebab-case slug: "my-design-v2" -> "My Design V2".
func TitleFromSlug(slug string) string {
	parts := strings.Split(slug, "-")
	var words []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		words = append(words, strings.ToUpper(part[:1])+part[1:])
	}
	if len(words) == 0 {
		return slug
	}
	return strings.Join(words, " ")
}

func listSubdirsSorted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// SyncDesignMetadata enumerates ui/designs/sets/*/ as designs (second-level
// directories as variations), creating store rows keyed by title and slug.
// Existing entries are left untouched.
func (s *Syncer) SyncDesignMetadata(ctx context.Context, orchestrationID string, projectID *string, worktreePath string) error {
	span := s.startSpan("daemon.sync_design_metadata")

	setsDir := filepath.Join(worktreePath, "ui", "designs", "sets")
	if _, err := os.Stat(setsDir); err != nil {
		s.endSpan(ctx, span, "ok", nil, nil)
		return nil
	}

	if projectID == nil {
		s.logger.Warn("skipping design sync: orchestration has no project_id",
			"orchestration", orchestrationID)
		s.endSpan(ctx, span, "ok", nil, nil)
		return nil
	}

	existingDesigns, err := s.client.ListDesigns(ctx, *projectID, nil)
	if err != nil {
		s.endSpan(ctx, span, "error", store.StrPtr("list_designs_failed"), store.StrPtr(err.Error()))
		return fmt.Errorf("listing designs for metadata sync: %w", err)
	}
	designIDsByTitle := make(map[string]string, len(existingDesigns))
	for _, design := range existingDesigns {
		designIDsByTitle[design.Title] = design.ID
	}

	designSlugs, err := listSubdirsSorted(setsDir)
	if err != nil {
		s.endSpan(ctx, span, "error", store.StrPtr("sets_dir_unreadable"), store.StrPtr(err.Error()))
		return err
	}

	for _, designSlug := range designSlugs {
		designDir := filepath.Join(setsDir, designSlug)
		metaPath := filepath.Join(designDir, "meta.ts")

		title, ok := ExtractTitleFromMeta(metaPath)
		if !ok {
			title = TitleFromSlug(designSlug)
		}
		prompt, ok := ExtractPromptFromMeta(metaPath)
		if !ok {
			prompt = fmt.Sprintf("Explore visual direction for %s", title)
		}

		designID, exists := designIDsByTitle[title]
		if !exists {
			newID, err := s.client.CreateDesign(ctx, *projectID, title, prompt)
			if err != nil {
				s.logger.Warn("failed to create design from metadata",
					"design", designSlug, "title", title, "error", err)
				continue
			}
			s.logger.Info("created design from workbench metadata",
				"design", designSlug, "title", title, "orchestration", orchestrationID)
			designIDsByTitle[title] = newID
			designID = newID
		}

		seenVariationSlugs := make(map[string]bool)
		if variations, err := s.client.ListVariations(ctx, designID); err != nil {
			s.logger.Warn("failed to list existing variations",
				"design", designSlug, "design_id", designID, "error", err)
		} else {
			for _, variation := range variations {
				seenVariationSlugs[variation.Slug] = true
			}
		}

		variationSlugs, err := listSubdirsSorted(designDir)
		if err != nil {
			continue
		}
		for _, varSlug := range variationSlugs {
			if seenVariationSlugs[varSlug] {
				continue
			}

			variationTitle, ok := ExtractTitleFromMeta(filepath.Join(designDir, varSlug, "meta.ts"))
			if !ok {
				variationTitle = TitleFromSlug(varSlug)
			}

			if _, err := s.client.CreateVariation(ctx, designID, varSlug, variationTitle); err != nil {
				s.logger.Warn("failed to create design variation",
					"design", designSlug, "variation", varSlug, "error", err)
				continue
			}
			seenVariationSlugs[varSlug] = true
			s.logger.Info("created design variation from workbench metadata",
				"design", designSlug, "variation", varSlug, "orchestration", orchestrationID)
		}
	}

	s.endSpan(ctx, span, "ok", nil, nil)
	return nil
}
