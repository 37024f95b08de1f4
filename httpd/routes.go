package httpd

import "fmt"

// Handler serves one demultiplexed request. The link id identifies the
// logical connection the response will be framed onto.
type Handler func(link int, req *Request) *Response

type route struct {
	path    string
	handler Handler
}

// RouteTable is an ordered, fixed-capacity list of exact-match routes.
// Lookup is linear and insertion order is preserved; the first registration
// of a path wins.
type RouteTable struct {
	routes   []route
	capacity int
}

// NewRouteTable returns an empty table holding at most capacity routes.
func NewRouteTable(capacity int) *RouteTable {
	if capacity <= 0 {
		panic("httpd: route table capacity must be positive")
	}
	return &RouteTable{routes: make([]route, 0, capacity), capacity: capacity}
}

// Handle registers a handler for an exact path.
func (t *RouteTable) Handle(path string, h Handler) error {
	if path == "" || path[0] != '/' || h == nil {
		return fmt.Errorf("register %q: %w", path, ErrInvalidRoute)
	}
	if len(t.routes) >= t.capacity {
		return fmt.Errorf("register %q: %w", path, ErrRouteTableFull)
	}
	t.routes = append(t.routes, route{path: path, handler: h})
	return nil
}

// lookup finds the first handler registered for path.
func (t *RouteTable) lookup(path string) (Handler, bool) {
	for _, r := range t.routes {
		if r.path == path {
			return r.handler, true
		}
	}
	return nil, false
}

// Len reports the number of registered routes.
func (t *RouteTable) Len() int { return len(t.routes) }

// Reset clears the table for a rebuild.
func (t *RouteTable) Reset() { t.routes = t.routes[:0] }
