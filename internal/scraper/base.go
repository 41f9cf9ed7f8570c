package scraper

import (
	"hash/fnv"
	"log/slog"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/obsidianstack/hydrowatch/internal/config"
	"github.com/obsidianstack/hydrowatch/internal/pipeline"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// Emit receives the indicators of each successful run.
type Emit func(adapterID string, out []types.Indicator)

// Build returns a scheduled job running the adapter selected by src.Type,
// with every run recorded by rec.
func Build(src config.Source, rec pipeline.Recorder, emit Emit, logger *slog.Logger) (pipeline.Job, error) {
	client, err := newClient(src)
	if err != nil {
		return pipeline.Job{}, errors.Wrapf(err, "scraper %q: build http client", src.ID)
	}
	params := pipeline.Params{Items: items(src)}

	var job pipeline.Job
	switch src.Type {
	case "json_series":
		a := &seriesAdapter{src: src, client: client, fan: fanOut(src)}
		m := pipeline.NewMonitor[[]pipeline.Fetched[[]reading], []latest](a, rec, logger)
		job = m.Job(params, src.Interval(), emit)
	case "exposition":
		a := &expositionAdapter{src: src, client: client}
		m := pipeline.NewMonitor[scrape, []latest](a, rec, logger)
		job = m.Job(params, src.Interval(), emit)
	default:
		return pipeline.Job{}, errors.Newf("scraper: unsupported type %q", src.Type)
	}
	job.Rev = revision(src)
	return job, nil
}

// revision fingerprints every setting of src, so a reload that changes any
// of them restarts the job.
func revision(src config.Source) string {
	b, err := json.Marshal(src)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	h.Write(b) //nolint:errcheck
	return strconv.FormatUint(h.Sum64(), 16)
}

func items(src config.Source) []pipeline.Item {
	out := make([]pipeline.Item, len(src.Items))
	for i, it := range src.Items {
		out[i] = pipeline.Item{ID: it.ID, Name: it.Name, Attributes: it.Attributes}
	}
	return out
}

func fanOut(src config.Source) pipeline.FanOut {
	fo := pipeline.FanOut{Concurrency: src.Concurrency}
	if src.RatePerSecond > 0 {
		burst := int(src.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		fo.Limiter = rate.NewLimiter(rate.Limit(src.RatePerSecond), burst)
	}
	return fo
}

// latest is the newest reading of one item.
type latest struct {
	item  pipeline.Item
	value float64
	at    time.Time
}

