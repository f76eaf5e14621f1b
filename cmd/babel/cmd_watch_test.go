package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/repo"
)

type watchResult struct {
	res *repo.AddResult
	err error
}

func TestWatchStoresEverySave(t *testing.T) {
	cfg := config.Default()
	r, err := repo.Init(filepath.Join(t.TempDir(), "store"), cfg)
	if err != nil {
		t.Fatalf("repo.Init: %v", err)
	}
	defer r.Close()

	path := writeSource(t, "calc.go", doubleGo)
	results := make(chan watchResult, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watchFiles(ctx, r, []string{path}, addOptions{language: "eng"}, nil, func(_ string, res *repo.AddResult, err error) {
			results <- watchResult{res, err}
		})
	}()

	first := next(t, results)
	if first.err != nil || !first.res.Created {
		t.Fatalf("initial add = %+v", first)
	}

	if err := os.WriteFile(path, []byte(tripleGo), 0o644); err != nil {
		t.Fatal(err)
	}
	var second object.Hash
	deadline := time.After(10 * time.Second)
	for second == "" {
		select {
		case got := <-results:
			// A save can be seen half written; only a parsed result counts.
			if got.err == nil && got.res.Hash != first.res.Hash {
				second = got.res.Hash
			}
		case <-deadline:
			t.Fatalf("no add after the file changed")
		}
	}
	if ok, err := r.Store.Has(context.Background(), second); err != nil || !ok {
		t.Fatalf("saved function not stored: %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watchFiles: %v", err)
	}
}

func next(t *testing.T, results <-chan watchResult) watchResult {
	t.Helper()
	select {
	case got := <-results:
		return got
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for an add")
	}
	return watchResult{}
}
