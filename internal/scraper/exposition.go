package scraper

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/hydrowatch/internal/config"
	"github.com/obsidianstack/hydrowatch/internal/pipeline"
	"github.com/obsidianstack/hydrowatch/internal/result"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// expositionAdapter scrapes one text exposition; each item names a metric
// family, and its attributes are label matchers.
type expositionAdapter struct {
	src    config.Source
	client *http.Client
	now    func() time.Time
}

func (a *expositionAdapter) ID() string { return a.src.ID }

// Fetch performs the single scrape shared by every item, so the scrape
// either succeeds or fails for all of them.
func (a *expositionAdapter) Fetch(ctx context.Context, p pipeline.Params) result.Result[scrape] {
	ec := &types.ExecutionContext{TotalItems: len(p.Items)}
	if len(p.Items) == 0 {
		return result.ErrWithContext[scrape](pipeline.ErrNoItems, ec)
	}

	body, err := get(ctx, a.client, a.src.Endpoint, string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err == nil {
		var mfs families
		if mfs, err = parseMetrics(bytes.NewReader(body)); err == nil {
			ec.SuccessfulItems = len(p.Items)
			for _, it := range p.Items {
				ec.SucceededItemIDs = append(ec.SucceededItemIDs, it.ID)
			}
			return result.OkWithContext(scrape{items: p.Items, mfs: mfs}, ec)
		}
	}
	ec.FailedItems = len(p.Items)
	return result.ErrWithContext[scrape](errors.Wrapf(err, "scrape %s", a.src.Endpoint), ec)
}

// Aggregate reads the family of each item the scrape was fetched for.
// Missing families fail with NO_DATA.
func (a *expositionAdapter) Aggregate(_ context.Context, sc scrape, ec *types.ExecutionContext) result.Result[[]latest] {
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	at := now()

	out := make([]latest, 0, len(sc.items))
	missing := &types.ExecutionContext{}
	for _, it := range sc.items {
		v, ok := sumFamily(sc.mfs[it.ID], it.Attributes)
		if !ok {
			missing.FailedItems++
			missing.ItemErrors = append(missing.ItemErrors, types.ItemError{
				ItemID:    it.ID,
				ItemName:  it.Name,
				Stage:     types.StageAggregate,
				Code:      pipeline.CodeNoData,
				Message:   "metric family absent from exposition",
				Timestamp: at,
			})
			continue
		}
		out = append(out, latest{item: it, value: v, at: at})
	}

	merged := types.Extend(ec, missing)
	if len(out) == 0 {
		return result.ErrWithContext[[]latest](errors.New("no configured metric present in exposition"), merged)
	}
	return result.OkWithContext(out, merged)
}

func (a *expositionAdapter) Transform(_ context.Context, in []latest) result.Result[[]types.Indicator] {
	return result.Ok(indicators(a.src, in))
}

// families are the metric families of one scrape, keyed by name.
type families map[string]*dto.MetricFamily

// scrape carries the parsed exposition together with the items it was
// fetched for.
type scrape struct {
	items []pipeline.Item
	mfs   families
}

// parseMetrics decodes a text exposition. Families parsed before a syntax
// error are kept; only an exposition yielding nothing is an error.
func parseMetrics(r io.Reader) (families, error) {
	var p expfmt.TextParser
	mfs, err := p.TextToMetricFamilies(r)
	if len(mfs) == 0 && err != nil {
		return nil, errors.Wrap(err, "parse text exposition")
	}
	return mfs, nil
}

// sumFamily totals the counter, gauge and untyped samples of mf whose labels
// carry every pair in match. ok is false when no sample qualified.
func sumFamily(mf *dto.MetricFamily, match map[string]string) (total float64, ok bool) {
	for _, m := range mf.GetMetric() {
		if !hasLabels(m.GetLabel(), match) {
			continue
		}
		v, scalar := scalarValue(m)
		if !scalar {
			continue
		}
		total += v
		ok = true
	}
	return total, ok
}

func scalarValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue(), true
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue(), true
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue(), true
	}
	return 0, false
}

func hasLabels(pairs []*dto.LabelPair, match map[string]string) bool {
	if len(match) == 0 {
		return true
	}
	found := 0
	for _, lp := range pairs {
		if want, ok := match[lp.GetName()]; ok && want == lp.GetValue() {
			found++
		}
	}
	return found == len(match)
}
