// Package curriculum turns a completed report's narrative into a
// course blueprint. It is a one-shot transform: no claim, no status
// transition, nothing persisted.
package curriculum

import (
	"context"
	"fmt"
	"log"

	"github.com/iqsf/safetyindex/internal/llm"
	"github.com/iqsf/safetyindex/internal/store"
)

const blueprintPrompt = `You are an expert Instructional Designer. Transform the following intelligence report on %s into a blueprint for a mini-course.

Source Intelligence Report:
---
%s
---

Respond with ONLY this JSON:
{
    "course_title": "Course title",
    "learning_objectives": ["What learners will be able to do"],
    "modules": [
        {"title": "Module title", "description": "What the module covers"}
    ],
    "downloadable_asset": "An idea for a downloadable companion asset"
}`

// Module is one unit of a course blueprint.
type Module struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Blueprint is the generated course outline for one report.
type Blueprint struct {
	ReportID           int64    `json:"report_id"`
	Country            string   `json:"country"`
	CourseTitle        string   `json:"course_title"`
	LearningObjectives []string `json:"learning_objectives"`
	Modules            []Module `json:"modules"`
	DownloadableAsset  string   `json:"downloadable_asset"`
}

// Developer generates course blueprints from published narratives.
type Developer struct {
	store    store.Store
	provider llm.Provider
}

// NewDeveloper creates a new curriculum developer.
func NewDeveloper(st store.Store, provider llm.Provider) *Developer {
	return &Developer{store: st, provider: provider}
}

// Develop generates a course blueprint from the report's narrative.
// Returns store.ErrNotFound when the report has no published narrative.
func (d *Developer) Develop(ctx context.Context, reportID int64) (*Blueprint, error) {
	if d.provider == nil {
		return nil, fmt.Errorf("no generation provider available")
	}

	r, err := d.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("fetching report: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("report %d: %w", reportID, store.ErrNotFound)
	}
	narrative, err := d.store.GetNarrative(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("fetching narrative: %w", err)
	}
	if narrative == nil {
		return nil, fmt.Errorf("report %d has no narrative: %w", reportID, store.ErrNotFound)
	}

	log.Printf("Generating course blueprint for report %d (%s)", reportID, r.Country)
	prompt := fmt.Sprintf(blueprintPrompt, r.Country, narrative.Text)
	responseText, err := d.provider.GenerateJSON(ctx, prompt, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating blueprint: %w", err)
	}

	parsed := llm.ParseJSONResponse(responseText)
	if parsed == nil {
		return nil, fmt.Errorf("generating blueprint: unparsable response")
	}

	bp := &Blueprint{
		ReportID:           reportID,
		Country:            r.Country,
		CourseTitle:        llm.String(parsed, "course_title", ""),
		LearningObjectives: llm.StringList(parsed, "learning_objectives"),
		Modules:            parseModules(parsed),
		DownloadableAsset:  llm.String(parsed, "downloadable_asset", ""),
	}
	if bp.CourseTitle == "" || len(bp.Modules) == 0 {
		return nil, fmt.Errorf("generating blueprint: response missing course_title or modules")
	}
	return bp, nil
}

func parseModules(m map[string]any) []Module {
	raw, ok := m["modules"]
	if !ok {
		return nil
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil
	}

	var modules []Module
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		modules = append(modules, Module{
			Title:       llm.String(obj, "title", ""),
			Description: llm.String(obj, "description", ""),
		})
	}
	return modules
}
