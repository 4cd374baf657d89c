package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/util"
)

// KnowledgeBase looks up documents stored in Redis. Each document is a hash
// at <prefix>doc:<id>; every content token indexes the id in a set at
// <prefix>term:<token>.
type KnowledgeBase struct {
	rdb     redis.UniversalClient
	prefix  string
	maxHits int
}

// NewKnowledgeBase wraps an existing client.
func NewKnowledgeBase(rdb redis.UniversalClient, prefix string) *KnowledgeBase {
	if prefix == "" {
		prefix = "kb:"
	}
	return &KnowledgeBase{rdb: rdb, prefix: prefix, maxHits: 3}
}

func (k *KnowledgeBase) Name() string { return models.ToolKnowledgeBase }

func (k *KnowledgeBase) docKey(id string) string    { return k.prefix + "doc:" + id }
func (k *KnowledgeBase) termKey(term string) string { return k.prefix + "term:" + term }

// Put stores or replaces a document and indexes its title and content.
func (k *KnowledgeBase) Put(ctx context.Context, id, title, content string) error {
	if id == "" {
		return errors.New("document id is required")
	}
	_, err := k.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k.docKey(id), "title", title, "content", content)
		for term := range util.ContentTokens(title + " " + content) {
			p.SAdd(ctx, k.termKey(term), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store document %s: %w", id, err)
	}
	return nil
}

// Invoke accepts either "key" for a direct lookup or "query" for a term search.
func (k *KnowledgeBase) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	if key, ok := args["key"].(string); ok && key != "" {
		doc, err := k.get(ctx, key)
		if err != nil {
			return "", err
		}
		return doc, nil
	}
	query, err := StringArg(args, "query")
	if err != nil {
		return "", err
	}
	ids, err := k.search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("no documents match %q", util.TruncateString(query, 60, true))
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		doc, err := k.get(ctx, id)
		if err != nil {
			continue
		}
		parts = append(parts, doc)
	}
	if len(parts) == 0 {
		return "", errors.New("matched documents are no longer stored")
	}
	return strings.Join(parts, "\n\n"), nil
}

func (k *KnowledgeBase) get(ctx context.Context, id string) (string, error) {
	fields, err := k.rdb.HGetAll(ctx, k.docKey(id)).Result()
	if err != nil {
		return "", fmt.Errorf("load document %s: %w", id, err)
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("document %s not found", id)
	}
	return fmt.Sprintf("[%s] %s\n%s", id, fields["title"], fields["content"]), nil
}

// search ranks documents by the number of query terms they contain.
func (k *KnowledgeBase) search(ctx context.Context, query string) ([]string, error) {
	terms := make([]string, 0)
	for t := range util.ContentTokens(query) {
		terms = append(terms, t)
	}
	if len(terms) == 0 {
		return nil, nil
	}
	sort.Strings(terms)

	cmds := make([]*redis.StringSliceCmd, len(terms))
	_, err := k.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, t := range terms {
			cmds[i] = p.SMembers(ctx, k.termKey(t))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("search index: %w", err)
	}

	hits := make(map[string]int)
	for _, c := range cmds {
		for _, id := range c.Val() {
			hits[id]++
		}
	}
	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if hits[ids[i]] != hits[ids[j]] {
			return hits[ids[i]] > hits[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > k.maxHits {
		ids = ids[:k.maxHits]
	}
	return ids, nil
}
