package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/rcourtman/puppetdb-inventory/internal/config"
	inverrors "github.com/rcourtman/puppetdb-inventory/internal/errors"
	"github.com/rcourtman/puppetdb-inventory/internal/logging"
	"github.com/rcourtman/puppetdb-inventory/internal/metrics"
	"github.com/rcourtman/puppetdb-inventory/pkg/puppetdb"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// FactSource is the subset of PuppetDB the inventory is built from.
type FactSource interface {
	Nodes(ctx context.Context) ([]puppetdb.Node, error)
	NodeFacts(ctx context.Context, node string) ([]puppetdb.Fact, error)
	TaggedNodes(ctx context.Context, resourceType, tag string) ([]string, error)
}

// Options control grouping and filtering.
type Options struct {
	GroupBy        string
	TagGroups      []config.TagGroup
	IncludeHosts   []string
	ExcludeHosts   []string
	MaxConcurrency int
}

// OptionsFromConfig extracts builder options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		GroupBy:        strings.TrimSpace(cfg.GroupBy),
		TagGroups:      cfg.TagGroups(),
		IncludeHosts:   cfg.IncludeHosts,
		ExcludeHosts:   cfg.ExcludeHosts,
		MaxConcurrency: cfg.MaxConcurrency,
	}
}

// Builder turns PuppetDB nodes and facts into an Ansible inventory.
type Builder struct {
	source  FactSource
	opts    Options
	metrics *metrics.Recorder
}

func NewBuilder(source FactSource, opts Options, recorder *metrics.Recorder) *Builder {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = config.DefaultConcurrency
	}
	return &Builder{source: source, opts: opts, metrics: recorder}
}

type nodeResult struct {
	name  string
	vars  Hostvars
	group string
}

// BuildList fetches every node and its facts and assembles the inventory.
func (b *Builder) BuildList(ctx context.Context) (*Inventory, error) {
	logger := logging.FromContext(ctx)

	nodes, err := b.source.Nodes(ctx)
	b.metrics.RecordQuery("nodes", err)
	if err != nil {
		return nil, err
	}

	names := b.filterNodes(nodes)
	logger.Debug().
		Int("nodes", len(nodes)).
		Int("selected", len(names)).
		Msg("Fetched node list from PuppetDB")

	tagged, err := b.fetchTagGroups(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]nodeResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.MaxConcurrency)
	for i, name := range names {
		g.Go(func() error {
			vars, factsByName, err := b.hostvars(gctx, name)
			if err != nil {
				return err
			}
			results[i] = nodeResult{name: name, vars: vars}
			if b.opts.GroupBy != "" {
				results[i].group = groupName(factsByName[b.opts.GroupBy])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	inv := New()
	for _, r := range results {
		inv.AddHost(AllGroup, r.name)
		inv.Hostvars[r.name] = r.vars

		if b.opts.GroupBy != "" {
			group := r.group
			if group == MetaKey {
				logger.Warn().Str("host", r.name).Str("fact", b.opts.GroupBy).
					Msg("Fact value collides with the reserved _meta key, grouping as unknown")
				group = UnknownGroup
			}
			inv.AddHost(group, r.name)
		}

		for _, tg := range b.opts.TagGroups {
			if _, ok := tagged[tg][r.name]; ok && tg.Tag != MetaKey {
				inv.AddHost(tg.Tag, r.name)
			}
		}
	}
	inv.Normalize()

	b.metrics.RecordInventory(inv.HostCount(), len(inv.Groups))
	logger.Info().
		Int("hosts", inv.HostCount()).
		Int("groups", len(inv.Groups)).
		Msg("Built inventory from PuppetDB")
	if logging.IsLevelEnabled(zerolog.DebugLevel) {
		logger.Debug().Strs("groups", inv.GroupNames()).Msg("Inventory groups")
	}

	return inv, nil
}

// HostDetail returns the hostvars of a single host.
func (b *Builder) HostDetail(ctx context.Context, host string) (Hostvars, error) {
	vars, _, err := b.hostvars(ctx, host)
	if err != nil {
		return nil, err
	}
	return vars, nil
}

// hostvars fetches a node's facts and returns them as hostvars, along with
// the raw fact values keyed by name.
func (b *Builder) hostvars(ctx context.Context, node string) (Hostvars, map[string]json.RawMessage, error) {
	facts, err := b.source.NodeFacts(ctx, node)
	b.metrics.RecordQuery("node_facts", err)
	if err != nil {
		return nil, nil, err
	}
	if len(facts) == 0 {
		return nil, nil, inverrors.NewInventoryError(inverrors.ErrorTypeNotFound, "node_facts",
			fmt.Errorf("no facts reported")).WithNode(node)
	}

	vars := make(Hostvars, len(facts)+1)
	byName := make(map[string]json.RawMessage, len(facts))
	for _, f := range facts {
		value := f.Value
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		vars[f.Name] = value
		byName[f.Name] = value
	}

	vars[SSHHostVar] = sshHost(ctx, node, byName["fqdn"])
	return vars, byName, nil
}

func sshHost(ctx context.Context, node string, fqdn json.RawMessage) string {
	var s string
	if len(fqdn) > 0 && json.Unmarshal(fqdn, &s) == nil && strings.TrimSpace(s) != "" {
		return s
	}
	logger := logging.FromContext(ctx)
	logger.Warn().Str("host", node).Msg("Node has no fqdn fact, using certname for ansible_ssh_host")
	return node
}

// groupName renders a fact value as a group name. Missing or null facts map to
// UnknownGroup; strings are used verbatim; other values use their compact JSON
// exactly as PuppetDB reported it.
func groupName(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return UnknownGroup
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		if s == "" {
			return UnknownGroup
		}
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return UnknownGroup
	}
	return compact.String()
}

func (b *Builder) filterNodes(nodes []puppetdb.Node) []string {
	names := make([]string, 0, len(nodes))
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		name := n.ID()
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if !b.selected(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (b *Builder) selected(host string) bool {
	if len(b.opts.IncludeHosts) > 0 && !matchAny(b.opts.IncludeHosts, host) {
		return false
	}
	return !matchAny(b.opts.ExcludeHosts, host)
}

func matchAny(patterns []string, host string) bool {
	for _, p := range patterns {
		if wildcard.Match(p, host) {
			return true
		}
	}
	return false
}

// fetchTagGroups runs each group_by_tag query once and returns the tagged
// hosts per entry.
func (b *Builder) fetchTagGroups(ctx context.Context) (map[config.TagGroup]map[string]struct{}, error) {
	tagged := make(map[config.TagGroup]map[string]struct{}, len(b.opts.TagGroups))
	if len(b.opts.TagGroups) == 0 {
		return tagged, nil
	}

	logger := logging.FromContext(ctx)
	results := make([][]string, len(b.opts.TagGroups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.MaxConcurrency)
	for i, tg := range b.opts.TagGroups {
		if tg.Tag == MetaKey {
			logger.Warn().Str("resource_type", tg.ResourceType).Str("tag", tg.Tag).
				Msg("Tag collides with the reserved _meta key, skipping tag group")
			continue
		}
		g.Go(func() error {
			hosts, err := b.source.TaggedNodes(gctx, tg.ResourceType, tg.Tag)
			b.metrics.RecordQuery("resources", err)
			if err != nil {
				return err
			}
			results[i] = hosts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, tg := range b.opts.TagGroups {
		set, ok := tagged[tg]
		if !ok {
			set = make(map[string]struct{}, len(results[i]))
			tagged[tg] = set
		}
		for _, h := range results[i] {
			set[h] = struct{}{}
		}
	}
	return tagged, nil
}
