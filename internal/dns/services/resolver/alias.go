package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/haukened/dnscore/internal/dns/common/log"
	"github.com/haukened/dnscore/internal/dns/common/utils"
	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/gateways/wire"
)

var (
	// ErrAliasDepthExceeded is returned when a chain holds more CNAME hops than allowed.
	ErrAliasDepthExceeded = errors.New("alias resolution max depth exceeded")
	// ErrAliasLoopDetected is returned when an owner name reappears in the chain.
	ErrAliasLoopDetected = errors.New("alias loop detected")
	// ErrAliasTargetInvalid indicates the CNAME target was empty.
	ErrAliasTargetInvalid = errors.New("alias target invalid")
)

// aliasChaser expands a local CNAME into the chain that answers the original
// question (RFC 1034 3.6.2). Targets are looked up in the store first, then
// upstream when one is configured.
type aliasChaser struct {
	store    RecordStore
	up       UpstreamClient
	logger   log.Logger
	maxDepth int
}

type chaseState struct {
	query   domain.Question
	id      uint16
	chain   []domain.Record
	visited map[string]struct{}
	depth   int
	current []domain.Record
}

// shouldChase reports whether the question can be answered through an alias.
func shouldChase(t domain.RRType) bool {
	return t != domain.RRTypeCNAME && t != domain.RRTypeANY
}

// Chase follows initial, which must start with a CNAME, and returns the hops
// followed by the terminal record set. On a loop or depth violation the chain
// gathered so far is returned with the error. A target with no data ends the
// chain without error.
func (a *aliasChaser) Chase(ctx context.Context, q domain.Question, id uint16, initial []domain.Record) ([]domain.Record, error) {
	if len(initial) == 0 || initial[0].Type != domain.RRTypeCNAME {
		return initial, nil
	}
	st := chaseState{
		query:   q,
		id:      id,
		chain:   make([]domain.Record, 0, 4),
		visited: map[string]struct{}{},
		current: initial,
	}

	for {
		head := st.current[0]
		st.depth++
		if a.maxDepth > 0 && st.depth > a.maxDepth {
			a.logger.Warn(map[string]any{"query": q.String(), "alias_name": head.Domain, "alias_depth": st.depth}, "Alias depth exceeded")
			return append(st.chain, head), ErrAliasDepthExceeded
		}
		owner := utils.CanonicalDNSName(head.Domain)
		if _, seen := st.visited[owner]; seen {
			a.logger.Warn(map[string]any{"query": q.String(), "alias_name": head.Domain, "alias_depth": st.depth}, "Alias loop detected")
			return append(st.chain, head), ErrAliasLoopDetected
		}
		st.visited[owner] = struct{}{}
		st.chain = append(st.chain, head)

		target := utils.CanonicalDNSName(head.Value)
		if target == "" {
			return st.chain, fmt.Errorf("%w: empty for %s", ErrAliasTargetInvalid, head.Domain)
		}

		next, fromUpstream := a.lookup(ctx, &st, target)
		if len(next) == 0 {
			break
		}
		if fromUpstream || next[0].Type != domain.RRTypeCNAME {
			st.chain = append(st.chain, next...)
			break
		}
		st.current = next
	}
	return st.chain, nil
}

// lookup resolves target for the original type, then as a further alias,
// then upstream. The bool reports an upstream answer, which arrives already
// chased and ends the walk.
func (a *aliasChaser) lookup(ctx context.Context, st *chaseState, target string) ([]domain.Record, bool) {
	if recs, ok := a.store.Query(target, st.query.Type); ok {
		return withOwner(recs, target), false
	}
	if recs, ok := a.store.Query(target, domain.RRTypeCNAME); ok {
		return withOwner(recs, target), false
	}
	if a.up == nil {
		return nil, false
	}
	raw, err := wire.BuildQuery(st.id, domain.NewQuestion(target, st.query.Type))
	if err != nil {
		a.logger.Debug(map[string]any{"error": err, "target": target}, "Cannot build upstream query during alias chase")
		return nil, false
	}
	recs, ok := a.up.Query(ctx, target, st.query.Type, raw)
	if !ok {
		return nil, false
	}
	return recs, true
}

// withOwner replaces wildcard owner names with the name that was asked for.
func withOwner(records []domain.Record, name string) []domain.Record {
	for i := range records {
		if utils.IsWildcard(records[i].Domain) {
			records[i].Domain = name
		}
	}
	return records
}
