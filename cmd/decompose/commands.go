package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ncolesummers/request-decomposition/pkg/decomposition"
	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

// validationError is returned by the validate command when violations exist
type validationError struct {
	graphID string
	count   int
}

func (e *validationError) Error() string {
	return fmt.Sprintf("graph %s has %d violation(s)", e.graphID, e.count)
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "decompose",
		Short: "Record and inspect hierarchical request decompositions",
		Long: `decompose stores request decomposition sessions: a natural-language
request at the root, refined into intermediate and atomic sub-requests,
annotated with domain terms from a shared vocabulary.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "configs/default.yaml", "Path to configuration file")

	root.AddCommand(
		newCreateCmd(a),
		newAddCmd(a),
		newPromoteCmd(a),
		newAtomicCmd(a),
		newAttemptCmd(a),
		newFinalizeCmd(a),
		newValidateCmd(a),
		newShowCmd(a),
		newLeavesCmd(a),
		newListCmd(a),
		newDeleteCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newTermCmd(a),
		newRelateCmd(a),
		newSampleCmd(a),
		newVersionCmd(),
	)
	return root
}

func newCreateCmd(a *app) *cobra.Command {
	var (
		graphID    string
		rootID     string
		complexity float64
		confidence float64
	)

	cmd := &cobra.Command{
		Use:   "create <request>",
		Short: "Start a decomposition session for a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				opts := []decomposition.NodeOption{
					decomposition.WithComplexity(complexity),
					decomposition.WithConfidence(confidence),
				}
				if graphID != "" {
					opts = append(opts, decomposition.WithGraphID(graphID))
				}
				if rootID != "" {
					opts = append(opts, decomposition.WithID(rootID))
				}

				g, err := a.manager.Create(ctx, args[0], opts...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "graph %s root %s\n", g.ID, g.RootNodeID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&graphID, "graph-id", "", "Graph ID (generated when empty)")
	cmd.Flags().StringVar(&rootID, "root-id", "", "Root node ID (generated when empty)")
	cmd.Flags().Float64Var(&complexity, "complexity", 0, "Estimated complexity of the request")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Confidence in the estimate, 0 to 1")
	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	var (
		parentID   string
		nodeID     string
		reasoning  string
		terms      []string
		complexity float64
		confidence float64
		promote    bool
	)

	cmd := &cobra.Command{
		Use:   "add <graph-id> <text>",
		Short: "Add an atomic sub-request under a node (the root by default)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				graphID := args[0]
				parent := parentID
				if parent == "" {
					g, err := a.manager.Get(ctx, graphID)
					if err != nil {
						return err
					}
					parent = g.RootNodeID
				}

				opts := []decomposition.NodeOption{
					decomposition.WithComplexity(complexity),
					decomposition.WithConfidence(confidence),
				}
				if nodeID != "" {
					opts = append(opts, decomposition.WithID(nodeID))
				}
				if promote {
					opts = append(opts, decomposition.WithPromoteParent())
				}

				_, id, err := a.manager.AddChild(ctx, graphID, parent, args[1], reasoning, terms, opts...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&parentID, "parent", "p", "", "Parent node ID")
	cmd.Flags().StringVar(&nodeID, "id", "", "Node ID (generated when empty)")
	cmd.Flags().StringVarP(&reasoning, "reasoning", "r", "", "Why this sub-request was split out")
	cmd.Flags().StringSliceVarP(&terms, "term", "t", nil, "Domain term ID (repeatable)")
	cmd.Flags().Float64Var(&complexity, "complexity", 0, "Estimated complexity")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Confidence in the estimate, 0 to 1")
	cmd.Flags().BoolVar(&promote, "promote", false, "Promote an atomic parent to intermediate in the same update")
	return cmd
}

// newNodeCmd builds the commands that apply a single node operation
func newNodeCmd(a *app, use, short string, op func(ctx context.Context, graphID, nodeID string) (*domain.RequestGraph, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <graph-id> <node-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				g, err := op(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				n, _ := g.Node(args[1])
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s attempts=%d\n", n.ID, n.Type, n.Metadata.DecompositionAttempts)
				return nil
			})
		},
	}
}

func newPromoteCmd(a *app) *cobra.Command {
	return newNodeCmd(a, "promote", "Reclassify an atomic node as intermediate (invalid until it gains a child, prefer add --promote)",
		func(ctx context.Context, graphID, nodeID string) (*domain.RequestGraph, error) {
			return a.manager.Promote(ctx, graphID, nodeID)
		})
}

func newAtomicCmd(a *app) *cobra.Command {
	return newNodeCmd(a, "atomic", "Mark a childless node as atomic",
		func(ctx context.Context, graphID, nodeID string) (*domain.RequestGraph, error) {
			return a.manager.MarkAtomic(ctx, graphID, nodeID)
		})
}

func newAttemptCmd(a *app) *cobra.Command {
	return newNodeCmd(a, "attempt", "Count a decomposition attempt on a node",
		func(ctx context.Context, graphID, nodeID string) (*domain.RequestGraph, error) {
			return a.manager.RecordAttempt(ctx, graphID, nodeID)
		})
}

func newFinalizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "finalize <graph-id> <complete|error>",
		Short:     "Close a session with its outcome",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(domain.GraphStatusComplete), string(domain.GraphStatusError)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				g, err := a.manager.Finalize(ctx, args[0], domain.GraphStatus(args[1]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", g.ID, g.Status)
				return nil
			})
		},
	}
}

func newValidateCmd(a *app) *cobra.Command {
	var (
		all         bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "validate [graph-id]",
		Short: "Check stored graphs against the tree invariants",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return domain.NewInvalidInput("validate", "pass a graph ID or --all")
			}
			return a.run(cmd, func(ctx context.Context) error {
				out := cmd.OutOrStdout()
				if !all {
					res, err := a.manager.Validate(ctx, args[0])
					if err != nil {
						return err
					}
					if res.Valid() {
						fmt.Fprintln(out, "valid")
						return nil
					}
					for _, v := range res.Violations {
						fmt.Fprintln(out, v.String())
					}
					return &validationError{graphID: args[0], count: len(res.Violations)}
				}

				reports, err := a.manager.Audit(ctx, domain.GraphFilter{}, concurrency)
				if err != nil {
					return err
				}
				var failed *validationError
				for _, r := range reports {
					if r.Result.Valid() {
						fmt.Fprintf(out, "%s valid\n", r.GraphID)
						continue
					}
					fmt.Fprintf(out, "%s %d violation(s)\n", r.GraphID, len(r.Result.Violations))
					for _, v := range r.Result.Violations {
						fmt.Fprintf(out, "  %s\n", v.String())
					}
					if failed == nil {
						failed = &validationError{graphID: r.GraphID}
					}
					failed.count += len(r.Result.Violations)
				}
				if failed != nil {
					return failed
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Validate every stored graph")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Graphs validated in parallel with --all")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <graph-id>",
		Short: "Render a stored graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				g, err := a.manager.Get(ctx, args[0])
				if err != nil {
					return err
				}
				name := format
				if name == "" {
					name = a.cfg.Session.Renderer
				}
				out, err := a.renderers.Render(name, g)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				if !strings.HasSuffix(out, "\n") {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Renderer: text, styled or json (default from config)")
	return cmd
}

// newLeavesCmd lists the atomic sub-requests, the actionable end of a decomposition
func newLeavesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "leaves <graph-id>",
		Short: "List atomic sub-requests with their depth and path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				g, err := a.manager.Get(ctx, args[0])
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DEPTH\tPATH\tTEXT")
				for _, leaf := range decomposition.Leaves(g) {
					path, err := decomposition.Path(g, leaf.ID)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", len(path)-1, strings.Join(path, "/"), truncate(leaf.Text, 60))
				}
				return w.Flush()
			})
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var (
		statuses []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored graphs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				filter := domain.GraphFilter{Limit: limit}
				for _, s := range statuses {
					status := domain.GraphStatus(s)
					if !status.Valid() {
						return domain.NewInvalidInput("list", "unknown status "+s)
					}
					filter.Status = append(filter.Status, status)
				}

				graphs, err := a.manager.List(ctx, filter)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tNODES\tREQUEST")
				for _, g := range graphs {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", g.ID, g.Status, g.Len(), truncate(g.OriginalRequest, 60))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only graphs with this status (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of graphs, 0 for all")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <graph-id>",
		Short: "Delete a stored graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				if err := a.manager.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <graph-id>",
		Short: "Write a graph as interchange JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				data, err := a.manager.Export(ctx, args[0])
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(append(data, '\n'))
					return err
				}
				if err := os.WriteFile(output, data, 0644); err != nil {
					return fmt.Errorf("failed to write export: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (stdout when empty)")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Store a graph from interchange JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				var (
					data []byte
					err  error
				)
				if args[0] == "-" {
					data, err = io.ReadAll(cmd.InOrStdin())
				} else {
					data, err = os.ReadFile(args[0])
				}
				if err != nil {
					return fmt.Errorf("failed to read import: %w", err)
				}

				g, err := a.manager.Import(ctx, data)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%d nodes)\n", g.ID, g.Len())
				return nil
			})
		},
	}
}

func newTermCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "term",
		Short: "Manage the shared domain vocabulary",
	}
	cmd.AddCommand(newTermAddCmd(a), newTermListCmd(a))
	return cmd
}

func newTermAddCmd(a *app) *cobra.Command {
	var term domain.DomainTerm

	cmd := &cobra.Command{
		Use:   "add <term>",
		Short: "Define a domain term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				term.Term = args[0]
				out, err := a.manager.DefineTerm(ctx, term)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&term.ID, "id", "", "Term ID (generated when empty)")
	cmd.Flags().StringVarP(&term.Definition, "definition", "d", "", "Definition")
	cmd.Flags().StringVar(&term.Domain, "domain", "", "Domain the term belongs to")
	cmd.Flags().StringSliceVar(&term.Context, "context", nil, "Usage context (repeatable)")
	return cmd
}

func newTermListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List domain terms and their relationships",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				terms, err := a.manager.Terms(ctx)
				if err != nil {
					return err
				}
				rels, err := a.manager.Relationships(ctx, "")
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTERM\tDOMAIN\tUSES\tDEFINITION")
				for _, t := range terms {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.ID, t.Term, t.Domain, t.UsageCount, truncate(t.Definition, 50))
				}
				if err := w.Flush(); err != nil {
					return err
				}

				for _, r := range rels {
					fmt.Fprintf(cmd.OutOrStdout(), "%s -%s-> %s (%.2f)\n", r.FromTerm, r.RelationshipType, r.ToTerm, r.Strength)
				}
				return nil
			})
		},
	}
}

func newRelateCmd(a *app) *cobra.Command {
	var rel domain.ConceptRelationship
	var relType string

	cmd := &cobra.Command{
		Use:   "relate <from-term> <to-term>",
		Short: "Record a relationship between two domain terms",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				rel.FromTerm = args[0]
				rel.ToTerm = args[1]
				rel.RelationshipType = domain.RelationshipType(relType)

				out, err := a.manager.Relate(ctx, rel)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&relType, "type", string(domain.RelationshipRequires), "requires, depends_on, enables or conflicts_with")
	cmd.Flags().Float64Var(&rel.Strength, "strength", 1, "Relationship strength")
	cmd.Flags().StringSliceVar(&rel.Examples, "example", nil, "Example (repeatable)")
	return cmd
}

// newSampleCmd stores the single-node sample session used to check that the
// data model round-trips end to end
func newSampleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sample",
		Short: "Store and print a sample single-node session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				g, err := a.manager.Create(ctx, "Sample request node",
					decomposition.WithID("test-node-1"),
					decomposition.WithReasoning("This is a test node to verify TypeScript interfaces"),
					decomposition.WithDomainTerms("test", "sample"),
					decomposition.WithComplexity(1),
					decomposition.WithConfidence(0.9),
				)
				if err != nil {
					return err
				}
				if g, err = a.manager.RecordAttempt(ctx, g.ID, g.RootNodeID); err != nil {
					return err
				}

				out, err := a.renderers.Render("json", g)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Request Decomposition\n")
			fmt.Fprintf(out, "Version: %s\n", Version)
			fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
		},
	}
}
