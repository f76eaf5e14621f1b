package repo

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/babel/pkg/canon"
	"github.com/odvcencio/babel/pkg/frontend"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/tree"
)

// ShowResult is either a reconstruction (Selected is set) or, when the
// language has several variants and none was chosen, the list of
// candidates to choose from.
type ShowResult struct {
	Object     *object.CodeObject
	Tree       *tree.Node
	Language   string
	Selected   *object.MappingRecord
	Candidates []object.MappingRecord
}

// SelectionRequired reports that the caller must pick a mapping hash.
func (s *ShowResult) SelectionRequired() bool { return s.Selected == nil }

// Show loads h and the variants for language. mappingHash may be empty, a
// full mapping hash, or an unambiguous prefix of one.
func (r *Repo) Show(ctx context.Context, h object.Hash, language string, mappingHash string) (*ShowResult, error) {
	ctx, span := tracer.Start(ctx, "repo.Show", trace.WithAttributes(
		attribute.String("hash", string(h)),
		attribute.String("language", language),
	))
	defer span.End()

	if err := object.ValidateLanguage(language); err != nil {
		return nil, fmt.Errorf("show: %w", err)
	}
	obj, err := r.Store.Load(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("show: %w", err)
	}
	root, err := canon.Decode(obj.Tuples)
	if err != nil {
		return nil, fmt.Errorf("show %s: %w", h.Short(), err)
	}
	records, err := r.Store.LoadMappings(ctx, h, language)
	if err != nil {
		return nil, fmt.Errorf("show: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("show %s: no %s mapping: %w", h.Short(), language, object.ErrNotFound)
	}

	res := &ShowResult{Object: obj, Tree: root, Language: language}
	if mappingHash != "" {
		var matches []object.MappingRecord
		for _, rec := range records {
			if strings.HasPrefix(string(rec.Hash), mappingHash) {
				matches = append(matches, rec)
			}
		}
		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("show %s: mapping %s: %w", h.Short(), mappingHash, object.ErrNotFound)
		case 1:
			res.Selected = &matches[0]
		default:
			res.Candidates = matches
		}
		return res, nil
	}
	if len(records) == 1 {
		res.Selected = &records[0]
		return res, nil
	}
	res.Candidates = records
	span.SetAttributes(attribute.Int("candidates", len(records)))
	return res, nil
}

// Render reconstructs source for a resolved ShowResult.
func (r *Repo) Render(fe frontend.FrontEnd, res *ShowResult) ([]byte, error) {
	if res.SelectionRequired() {
		return nil, fmt.Errorf("render %s: %d candidate mappings, choose one", res.Object.Hash.Short(), len(res.Candidates))
	}
	return fe.Render(res.Tree, &res.Selected.Mapping)
}
