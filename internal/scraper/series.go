package scraper

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"

	"github.com/obsidianstack/hydrowatch/internal/config"
	"github.com/obsidianstack/hydrowatch/internal/pipeline"
	"github.com/obsidianstack/hydrowatch/internal/result"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// reading is one timestamped value of a series.
type reading struct {
	at    time.Time
	value float64
}

// seriesAdapter fetches one JSON document per item.
type seriesAdapter struct {
	src    config.Source
	client *http.Client
	fan    pipeline.FanOut
	now    func() time.Time
}

func (a *seriesAdapter) ID() string { return a.src.ID }

func (a *seriesAdapter) Fetch(ctx context.Context, p pipeline.Params) result.Result[[]pipeline.Fetched[[]reading]] {
	return pipeline.FetchItems(ctx, p.Items, a.fan, func(ctx context.Context, it pipeline.Item) ([]reading, error) {
		target := strings.ReplaceAll(a.src.Endpoint, "{id}", url.PathEscape(it.ID))
		body, err := get(ctx, a.client, target, "application/json")
		if err != nil {
			return nil, err
		}
		return decodeSeries(body, a.src.Series)
	})
}

// Aggregate keeps the newest reading of each item. Items without readings
// fail with NO_DATA.
func (a *seriesAdapter) Aggregate(_ context.Context, raw []pipeline.Fetched[[]reading], ec *types.ExecutionContext) result.Result[[]latest] {
	now := time.Now
	if a.now != nil {
		now = a.now
	}

	out := make([]latest, 0, len(raw))
	noData := &types.ExecutionContext{}
	for _, f := range raw {
		if len(f.Value) == 0 {
			noData.FailedItems++
			noData.ItemErrors = append(noData.ItemErrors, types.ItemError{
				ItemID:    f.Item.ID,
				ItemName:  f.Item.Name,
				Stage:     types.StageAggregate,
				Code:      pipeline.CodeNoData,
				Message:   "series has no readings",
				Timestamp: now(),
			})
			continue
		}
		newest := f.Value[0]
		for _, r := range f.Value[1:] {
			if r.at.After(newest.at) {
				newest = r
			}
		}
		out = append(out, latest{item: f.Item, value: newest.value, at: newest.at})
	}

	merged := types.Extend(ec, noData)
	if len(out) == 0 {
		return result.ErrWithContext[[]latest](errors.New("no item produced a reading"), merged)
	}
	return result.OkWithContext(out, merged)
}

func (a *seriesAdapter) Transform(_ context.Context, in []latest) result.Result[[]types.Indicator] {
	return result.Ok(indicators(a.src, in))
}

func indicators(src config.Source, in []latest) []types.Indicator {
	kind := src.Metric
	out := make([]types.Indicator, 0, len(in))
	for _, l := range in {
		k := kind
		if k == "" {
			k = l.item.ID
		}
		out = append(out, types.Indicator{
			AdapterID:  src.ID,
			ItemID:     l.item.ID,
			ItemName:   l.item.Name,
			Kind:       k,
			Value:      l.value,
			Unit:       src.Unit,
			ObservedAt: l.at,
		})
	}
	return out
}

// decodeSeries reads the readings array of a JSON document. Readings whose
// value or time cannot be read are skipped.
func decodeSeries(body []byte, sc config.SeriesConfig) ([]reading, error) {
	var rows []map[string]any
	if sc.DataField == "" {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, pipeline.WithCode(errors.Wrap(err, "decode series"), pipeline.CodeDecodeFailed)
		}
	} else {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, pipeline.WithCode(errors.Wrap(err, "decode document"), pipeline.CodeDecodeFailed)
		}
		field, ok := doc[sc.DataField]
		if !ok {
			return nil, pipeline.WithCode(errors.Newf("document has no %q field", sc.DataField), pipeline.CodeDecodeFailed)
		}
		if err := json.Unmarshal(field, &rows); err != nil {
			return nil, pipeline.WithCode(errors.Wrapf(err, "decode %q", sc.DataField), pipeline.CodeDecodeFailed)
		}
	}

	out := make([]reading, 0, len(rows))
	for _, row := range rows {
		v, ok := number(row[sc.ValueField])
		if !ok {
			continue
		}
		at, ok := timestamp(row[sc.TimeField])
		if !ok {
			continue
		}
		out = append(out, reading{at: at, value: v})
	}
	return out, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// timestamp accepts RFC 3339 strings and unix seconds.
func timestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		at, err := time.Parse(time.RFC3339, t)
		return at, err == nil
	case float64:
		sec := int64(t)
		return time.Unix(sec, int64((t-float64(sec))*1e9)).UTC(), true
	default:
		return time.Time{}, false
	}
}
