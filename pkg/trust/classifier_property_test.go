package trust_test

import (
	"context"
	"path"
	"strings"
	"sync/atomic"
	"testing"

	"pgregory.net/rapid"

	"github.com/polisai/polis-sandbox/pkg/domain"
	"github.com/polisai/polis-sandbox/pkg/trust"
)

// lexicalNormalizer treats every absolute path as existing and resolves dot
// segments lexically.
type lexicalNormalizer struct {
	calls atomic.Int64
}

func (l *lexicalNormalizer) Normalize(_ context.Context, p string) (string, error) {
	l.calls.Add(1)
	return path.Clean(p), nil
}

const propertyRoot = "/srv/templates/storage"

func segmentsGen() *rapid.Generator[[]string] {
	return rapid.SliceOfN(rapid.StringMatching(`[a-z0-9_]{1,8}|\.`), 1, 6)
}

func TestClassifierInsideRootProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c, err := trust.NewClassifier(propertyRoot, trust.WithNormalizer(&lexicalNormalizer{}))
		if err != nil {
			t.Fatalf("new classifier: %v", err)
		}

		segs := segmentsGen().Draw(t, "segments")
		p := propertyRoot + "/" + strings.Join(segs, "/")

		if !c.Classify(domain.TemplateOrigin{Path: p}) {
			t.Fatalf("expected %q to be sandboxed", p)
		}
	})
}

func TestClassifierOutsideRootProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c, err := trust.NewClassifier(propertyRoot, trust.WithNormalizer(&lexicalNormalizer{}))
		if err != nil {
			t.Fatalf("new classifier: %v", err)
		}

		segs := segmentsGen().Draw(t, "segments")
		base := rapid.SampledFrom([]string{
			"/srv/templates/theme",
			"/srv/templates/storage-backup",
			"/srv/templates/storage/../theme",
			"/var/www",
		}).Draw(t, "base")
		p := base + "/" + strings.Join(segs, "/")

		if c.Classify(domain.TemplateOrigin{Path: p}) {
			t.Fatalf("expected %q to render unrestricted", p)
		}
	})
}

func TestClassifierCacheIdempotenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := &lexicalNormalizer{}
		c, err := trust.NewClassifier(propertyRoot, trust.WithNormalizer(n))
		if err != nil {
			t.Fatalf("new classifier: %v", err)
		}
		base := n.calls.Load()

		p := rapid.StringMatching(`/[a-z/._]{0,40}`).Draw(t, "path")
		origin := domain.TemplateOrigin{Path: p}

		first := c.Classify(origin)
		second := c.Classify(origin)

		if first != second {
			t.Fatalf("decision changed between calls for %q", p)
		}
		if got := n.calls.Load() - base; got != 1 {
			t.Fatalf("expected exactly one normalization, got %d", got)
		}
	})
}

func TestLooksDynamicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numeric := rapid.StringMatching(`[0-9]{1,20}`).Draw(t, "numeric")
		hash := rapid.StringMatching(`[a-f0-9]{32,64}`).Draw(t, "hash")
		marked := trust.StringTemplatePrefix + rapid.String().Draw(t, "suffix")
		static := rapid.StringMatching(`[g-z][a-z0-9_/.-]{0,20}`).Draw(t, "static")

		for _, name := range []string{numeric, hash, marked} {
			if !trust.LooksDynamic(name) {
				t.Fatalf("expected %q to look dynamic", name)
			}
		}
		if trust.LooksDynamic(static) {
			t.Fatalf("expected %q to look static", static)
		}
	})
}
