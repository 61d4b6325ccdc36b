package curriculum

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/abhisek/pathwise/internal/apperr"
)

// SeedFile is the on-disk format for bulk-loading curricula and lesson
// templates. JSON files parse too.
type SeedFile struct {
	Curricula []AuthoredCurriculum `yaml:"curricula"`
	Templates []Template           `yaml:"templates"`
}

// SeedResult counts what Seed wrote.
type SeedResult struct {
	Published []string
	Existing  []string
	Templates int
}

// ParseSeed decodes a seed file.
func ParseSeed(data []byte) (*SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperr.E(apperr.KindValidation, "curriculum.ParseSeed", err)
	}
	return &f, nil
}

// Seed publishes every curriculum in f and stores its templates. Versions
// that are already published are left untouched. A course with no
// templates in f gets one template per curriculum entry.
func (s *Store) Seed(ctx context.Context, f *SeedFile) (SeedResult, error) {
	const op = "curriculum.Seed"
	var res SeedResult

	for _, c := range f.Curricula {
		pub, err := s.Publish(ctx, c)
		switch {
		case err == nil:
			res.Published = append(res.Published, pub.ID)
		case errors.Is(err, apperr.ErrConflict):
			res.Existing = append(res.Existing, fmt.Sprintf("%s@%s", c.CourseID, c.Version))
		default:
			return res, err
		}
	}

	byCourse := make(map[string][]Template)
	for _, t := range f.Templates {
		if t.CourseID == "" || t.ID == "" {
			return res, apperr.Errorf(apperr.KindValidation, op, "template needs id and courseId")
		}
		byCourse[t.CourseID] = append(byCourse[t.CourseID], t)
	}
	for _, c := range f.Curricula {
		if _, ok := byCourse[c.CourseID]; ok {
			continue
		}
		byCourse[c.CourseID] = templatesFromEntries(c)
	}

	courses := make([]string, 0, len(byCourse))
	for id := range byCourse {
		courses = append(courses, id)
	}
	slices.Sort(courses)
	for _, courseID := range courses {
		templates := byCourse[courseID]
		if err := s.PutTemplates(ctx, courseID, templates); err != nil {
			return res, err
		}
		res.Templates += len(templates)
	}
	return res, nil
}

// templatesFromEntries derives catalog templates from a curriculum. The
// first entry wins when a lesson appears twice.
func templatesFromEntries(c AuthoredCurriculum) []Template {
	seen := make(map[string]bool, len(c.Entries))
	var out []Template
	for _, e := range c.Entries {
		if seen[e.LessonRef] {
			continue
		}
		seen[e.LessonRef] = true
		out = append(out, Template{
			ID:               e.LessonRef,
			CourseID:         c.CourseID,
			Title:            e.Title,
			OutcomeRefs:      e.OutcomeRefs,
			EstimatedMinutes: e.EstimatedMinutes,
		})
	}
	return out
}
