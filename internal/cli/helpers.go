package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/erpdb/internal/metrics"
	"github.com/mesh-intelligence/erpdb/internal/session"
	"github.com/mesh-intelligence/erpdb/internal/suggest"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// withSession opens the session, runs fn and closes the session again. A
// close failure is reported alongside fn's error.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session) error, opts ...session.Option) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	opts = append([]session.Option{
		session.WithLogger(a.logger),
		session.WithMetrics(metrics.New()),
	}, opts...)
	s, err := session.Open(ctx, a.cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, system(cerr))
		}
	}()
	return fn(ctx, s)
}

// provider builds the suggestion client from the configuration.
func (a *app) provider() *suggest.Client {
	return suggest.NewClient(a.cfg.Provider.URL, a.cfg.Provider.Timeout,
		suggest.WithLogger(a.logger),
		suggest.WithModel(a.cfg.Provider.Model),
	)
}

// resolveIDs expands identity prefixes, stopping at the first unknown one.
func resolveIDs(s *session.Session, refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, err := s.ResolveID(ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return system(fmt.Errorf("marshal JSON: %w", err))
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// output prints v as JSON in --json mode and calls human otherwise.
func (a *app) output(cmd *cobra.Command, v any, human func(w io.Writer)) error {
	if a.flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), v)
	}
	human(cmd.OutOrStdout())
	return nil
}

// parsePath reads a three-part category path from args.
func parsePath(args []string) types.CategoryPath {
	var parts [3]string
	copy(parts[:], args)
	return types.NewPath(parts[0], parts[1], parts[2])
}
