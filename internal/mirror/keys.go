package mirror

const (
	prefix       = "health:"
	configPrefix = prefix + "adapter:config:"
	statusPrefix = prefix + "adapter:status:"
	errorsPrefix = prefix + "adapter:errors:"
	itemsPrefix  = prefix + "adapter:items:"

	// SummaryKey holds the cached aggregate summary.
	SummaryKey = prefix + "summary"
)

// MaxErrors bounds the per-adapter error list.
const MaxErrors = 50

func ConfigKey(id string) string { return configPrefix + id }
func StatusKey(id string) string { return statusPrefix + id }
func ErrorsKey(id string) string { return errorsPrefix + id }

func ItemKey(id, itemID string) string { return itemsPrefix + id + ":" + itemID }
