package docsync

// Document layout of the view region:
//
//	views/<view_id>            map: id, name, layout, ...
//	views/<view_id>/row_orders list of {id, height}
//	views/<view_id>/filters    list of maps
//	views/<view_id>/sorts      list of maps
//	views/<view_id>/groups     list of maps
//	views/<view_id>/field_orders list of {id}

const (
	ViewsRoot      = "views"
	KeyLayout      = "layout"
	KeyRowOrders   = "row_orders"
	KeyFilters     = "filters"
	KeySorts       = "sorts"
	KeyGroups      = "groups"
	KeyFieldOrders = "field_orders"
)

type Layout string

const (
	LayoutGrid     Layout = "grid"
	LayoutBoard    Layout = "board"
	LayoutCalendar Layout = "calendar"
)

// ParseLayout accepts the stored representation of a layout value.
func ParseLayout(v any) (Layout, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	switch Layout(s) {
	case LayoutGrid, LayoutBoard, LayoutCalendar:
		return Layout(s), true
	}
	return "", false
}

// AnyMap is a schemaless settings object (filter/sort/group payloads).
type AnyMap map[string]any

type RowOrder struct {
	ID     string
	Height int64
}

type FieldOrder struct {
	ID string
}

type View struct {
	ID          string
	Name        string
	Layout      Layout
	RowOrders   []RowOrder
	Filters     []AnyMap
	Sorts       []AnyMap
	Groups      []AnyMap
	FieldOrders []FieldOrder
}

// viewFromValue decodes a full view object; a value without an id is
// not a view.
func viewFromValue(v any) (*View, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	id, ok := m["id"].(string)
	if !ok || id == "" {
		return nil, false
	}
	view := &View{ID: id}
	view.Name, _ = m["name"].(string)
	if layout, ok := ParseLayout(m[KeyLayout]); ok {
		view.Layout = layout
	}
	if rows, ok := m[KeyRowOrders].([]any); ok {
		for _, rv := range rows {
			if ro, ok := rowOrderFromValue(rv); ok {
				view.RowOrders = append(view.RowOrders, ro)
			}
		}
	}
	view.Filters = anyMapsFromValue(m[KeyFilters])
	view.Sorts = anyMapsFromValue(m[KeySorts])
	view.Groups = anyMapsFromValue(m[KeyGroups])
	if fields, ok := m[KeyFieldOrders].([]any); ok {
		for _, fv := range fields {
			if fo, ok := fieldOrderFromValue(fv); ok {
				view.FieldOrders = append(view.FieldOrders, fo)
			}
		}
	}
	return view, true
}

func rowOrderFromValue(v any) (RowOrder, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return RowOrder{}, false
	}
	id, ok := m["id"].(string)
	if !ok || id == "" {
		return RowOrder{}, false
	}
	ro := RowOrder{ID: id}
	switch h := m["height"].(type) {
	case float64:
		ro.Height = int64(h)
	case int64:
		ro.Height = h
	}
	return ro, true
}

func fieldOrderFromValue(v any) (FieldOrder, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return FieldOrder{}, false
	}
	id, ok := m["id"].(string)
	if !ok || id == "" {
		return FieldOrder{}, false
	}
	return FieldOrder{ID: id}, true
}

func anyMapFromValue(v any) (AnyMap, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return AnyMap(m), true
}

func anyMapsFromValue(v any) (ret []AnyMap) {
	vs, ok := v.([]any)
	if !ok {
		return nil
	}
	for _, item := range vs {
		if m, ok := anyMapFromValue(item); ok {
			ret = append(ret, m)
		}
	}
	return
}
