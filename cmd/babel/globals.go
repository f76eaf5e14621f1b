package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/repo"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	root     string
	logLevel string
	format   string

	logger *slog.Logger
}

func (g *globals) setup(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", g.logLevel)
	}
	switch g.format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("invalid --format %q: want text, json or yaml", g.format)
	}
	g.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

func (g *globals) resolveRoot() (string, error) {
	return config.ResolveRoot(g.root)
}

func (g *globals) openRepo() (*repo.Repo, error) {
	root, err := g.resolveRoot()
	if err != nil {
		return nil, err
	}
	return repo.Open(root, repo.WithLogger(g.logger))
}

// print writes v as JSON or YAML, or through text when --format is text.
func (g *globals) print(cmd *cobra.Command, v any, text func(w io.Writer) error) error {
	out := cmd.OutOrStdout()
	switch g.format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return text(out)
}

// resolveHash accepts a full object hash or an unambiguous prefix of one.
func resolveHash(ctx context.Context, r *repo.Repo, arg string) (object.Hash, error) {
	arg = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(arg)), "object_")
	if object.ValidateHash(object.Hash(arg)) == nil {
		return object.Hash(arg), nil
	}
	if arg == "" || strings.Trim(arg, "0123456789abcdef") != "" {
		return "", fmt.Errorf("invalid hash %q", arg)
	}
	var matches []object.Hash
	for h, err := range r.Store.Hashes(ctx) {
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(string(h), arg) {
			matches = append(matches, h)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%s: %w", arg, object.ErrNotFound)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("hash prefix %s is ambiguous: %d objects match", arg, len(matches))
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
