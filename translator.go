package docsync

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/docsync-io/docsync/rdoc"
	"github.com/docsync-io/docsync/utils"
)

type arrayKey byte

const (
	keyUnhandled arrayKey = iota
	keyRowOrder
	keyFilter
	keySort
	keyGroup
	keyFieldOrder
)

// classifyArray picks the classification by the delta's terminal path key.
func classifyArray(path rdoc.Path) (arrayKey, string) {
	if len(path) == 0 {
		return keyUnhandled, "empty path"
	}
	terminal := path[len(path)-1]
	switch terminal {
	case KeyRowOrders:
		return keyRowOrder, terminal
	case KeyFilters:
		return keyFilter, terminal
	case KeySorts:
		return keySort, terminal
	case KeyGroups:
		return keyGroup, terminal
	case KeyFieldOrders:
		return keyFieldOrder, terminal
	}
	return keyUnhandled, terminal
}

// viewIDFromPath extracts the owning view id from an array path like
// views/<view_id>/<list_key>.
func viewIDFromPath(path rdoc.Path) (string, bool) {
	if len(path) < 3 || path[0] != ViewsRoot {
		return "", false
	}
	return path[1], true
}

const viewCacheSize = 128

// ViewObserver translates raw structural deltas on the view region into
// typed ViewChange events. Values that fail to decode are skipped;
// an unrecognized terminal key drops the whole delta (forward
// compatibility, counted, never surfaced to consumers).
type ViewObserver struct {
	log   utils.Logger
	out   *ViewChangeBroadcast
	cache *lru.Cache[string, *View]
}

func NewViewObserver(log utils.Logger, out *ViewChangeBroadcast) *ViewObserver {
	cache, _ := lru.New[string, *View](viewCacheSize)
	return &ViewObserver{log: log, out: out, cache: cache}
}

// Attach subscribes the observer to a document's deep events.
func (o *ViewObserver) Attach(doc *DocRef) {
	doc.Observe(o.HandleEvents)
}

// CachedView returns the most recently decoded state of a view.
func (o *ViewObserver) CachedView(viewID string) (*View, bool) {
	return o.cache.Get(viewID)
}

func (o *ViewObserver) HandleEvents(events []rdoc.Event) {
	for _, ev := range events {
		if len(ev.EventPath()) == 0 || ev.EventPath()[0] != ViewsRoot {
			continue
		}
		switch e := ev.(type) {
		case *rdoc.ArrayEvent:
			o.handleArrayEvent(e)
		case *rdoc.MapEvent:
			o.handleMapEvent(e)
		}
	}
}

// handleArrayEvent runs the delta with one running offset, starting at
// zero: Retain advances it, Removed captures [offset, offset+n) before
// advancing, Added leaves it in place (new elements sit ahead of it).
func (o *ViewObserver) handleArrayEvent(ev *rdoc.ArrayEvent) {
	key, terminal := classifyArray(ev.Path)
	if key == keyUnhandled {
		TranslatorDroppedDeltas.WithLabelValues(terminal).Inc()
		o.log.Debug("observe: unhandled array delta", "key", terminal)
		return
	}
	viewID, _ := viewIDFromPath(ev.Path)

	offset := 0
	var deletedRows []uint32
	for _, change := range ev.Delta {
		switch change.Kind {
		case rdoc.ChangeRetain:
			offset += change.Len

		case rdoc.ChangeAdded:
			switch key {
			case keyRowOrder:
				var rows []RowOrder
				for _, v := range change.Values {
					if ro, ok := rowOrderFromValue(v); ok {
						rows = append(rows, ro)
					}
				}
				o.out.Send(RowOrdersInserted{RowOrders: rows})
			case keyFilter:
				o.out.Send(FiltersCreated{ViewID: viewID, Filters: decodedMaps(change.Values)})
			case keySort:
				o.out.Send(SortsCreated{ViewID: viewID, Sorts: decodedMaps(change.Values)})
			case keyGroup:
				o.out.Send(GroupsCreated{ViewID: viewID, Groups: decodedMaps(change.Values)})
			case keyFieldOrder:
				for _, v := range change.Values {
					if fo, ok := fieldOrderFromValue(v); ok {
						o.out.Send(FieldOrderCreated{ViewID: viewID, FieldOrder: fo})
					}
				}
			}

		case rdoc.ChangeRemoved:
			switch key {
			case keyRowOrder:
				for i := 0; i < change.Len; i++ {
					deletedRows = append(deletedRows, uint32(offset+i))
				}
			case keyFilter:
				o.out.Send(FilterUpdated{ViewID: viewID})
			case keySort:
				o.out.Send(SortUpdated{ViewID: viewID})
			case keyGroup:
				o.out.Send(GroupUpdated{ViewID: viewID})
			case keyFieldOrder:
				o.out.Send(FieldOrderDeleted{ViewID: viewID})
			}
			offset += change.Len
		}
	}

	if len(deletedRows) > 0 {
		o.out.Send(RowsDeletedAt{Indices: deletedRows})
	}
}

func decodedMaps(values []any) (ret []AnyMap) {
	for _, v := range values {
		if m, ok := anyMapFromValue(v); ok {
			ret = append(ret, m)
		}
	}
	return
}

func (o *ViewObserver) handleMapEvent(ev *rdoc.MapEvent) {
	// at the views root the changed key is a whole view object; deeper
	// down it is a field of the view the event's target map describes
	atRoot := len(ev.Path) == 1
	for key, change := range ev.Keys {
		switch change.Kind {
		case rdoc.EntryInserted:
			if atRoot {
				if view, ok := viewFromValue(change.Value); ok {
					o.cache.Add(view.ID, view)
					o.out.Send(ViewCreated{View: view})
				}
				continue
			}
			o.viewFieldChanged(ev, key, change.Value)

		case rdoc.EntryUpdated:
			if atRoot {
				if view, ok := viewFromValue(change.Value); ok {
					o.cache.Add(view.ID, view)
					o.out.Send(ViewUpdated{View: view})
				}
				continue
			}
			o.viewFieldChanged(ev, key, change.Value)

		case rdoc.EntryRemoved:
			if key == "" {
				o.log.Warn("observe: view delete with empty key")
				continue
			}
			o.cache.Remove(key)
			o.out.Send(ViewDeleted{ViewID: key})
		}
	}
}

// viewFieldChanged handles a write to one field of an existing view,
// whether the field is new or overwritten.
func (o *ViewObserver) viewFieldChanged(ev *rdoc.MapEvent, key string, value any) {
	view, ok := viewFromValue(ev.Target)
	if !ok {
		return
	}
	o.cache.Add(view.ID, view)
	o.out.Send(ViewUpdated{View: view})
	if key == KeyLayout {
		if layout, ok := ParseLayout(value); ok {
			o.out.Send(LayoutChanged{ViewID: view.ID, Layout: layout})
		}
	}
}
