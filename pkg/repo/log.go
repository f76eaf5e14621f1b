package repo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odvcencio/babel/pkg/object"
)

// LogEntry is one stored object as listed by Log.
type LogEntry struct {
	Hash      object.Hash `json:"hash" yaml:"hash"`
	Author    string      `json:"author" yaml:"author"`
	Time      time.Time   `json:"time" yaml:"time"`
	Tags      []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
	Languages []string    `json:"languages" yaml:"languages"`
}

// Log lists stored objects, newest first.
func (r *Repo) Log(ctx context.Context) ([]LogEntry, error) {
	var entries []LogEntry
	for h, err := range r.Store.Hashes(ctx) {
		if err != nil {
			return nil, fmt.Errorf("log: %w", err)
		}
		obj, err := r.Store.Load(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("log: %w", err)
		}
		records, err := r.Store.LoadMappings(ctx, h, "")
		if err != nil {
			return nil, fmt.Errorf("log: %w", err)
		}
		entries = append(entries, LogEntry{
			Hash:      h,
			Author:    obj.Metadata.Author,
			Time:      time.Unix(obj.Metadata.Timestamp, 0).UTC(),
			Tags:      obj.Metadata.Tags,
			Languages: languagesOf(records),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Time.Equal(entries[j].Time) {
			return entries[i].Time.After(entries[j].Time)
		}
		return entries[i].Hash < entries[j].Hash
	})
	return entries, nil
}

func languagesOf(records []object.MappingRecord) []string {
	var out []string
	for _, rec := range records {
		if len(out) == 0 || out[len(out)-1] != rec.Language {
			out = append(out, rec.Language)
		}
	}
	return out
}
