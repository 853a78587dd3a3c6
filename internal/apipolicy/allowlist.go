package apipolicy

// Entry is one explicitly permitted write operation.
type Entry struct {
	Method string
	Path   string
}

// allowlist is the full set of permitted writes. Changing it requires a
// rebuild; there is no runtime reload.
var allowlist = []Entry{
	{Method: "POST", Path: "/api/v1/notebooks"},
	{Method: "PUT", Path: "/api/v1/notebooks/{notebook_id}"},
	{Method: "DELETE", Path: "/api/v1/notebooks/{notebook_id}"},

	{Method: "POST", Path: "/api/v1/dashboard"},
	{Method: "PUT", Path: "/api/v1/dashboard/{dashboard_id}"},

	{Method: "POST", Path: "/api/v1/events"},
	{Method: "POST", Path: "/api/v2/series"},

	{Method: "PATCH", Path: "/api/v2/incidents/{incident_id}"},
	{Method: "POST", Path: "/api/v2/incidents/{incident_id}/relationships/todos"},

	{Method: "POST", Path: "/api/v2/downtime"},
	{Method: "PATCH", Path: "/api/v2/downtime/{downtime_id}"},
}

// safePostSuffixes mark POST endpoints that only read.
var safePostSuffixes = []string{
	"/search",
	"/aggregate",
	"/query/scalar",
	"/query/timeseries",
}

// Allowlist returns a copy of the permitted write operations.
func Allowlist() []Entry {
	out := make([]Entry, len(allowlist))
	copy(out, allowlist)
	return out
}

// SafePostSuffixes returns a copy of the read-only POST suffixes.
func SafePostSuffixes() []string {
	out := make([]string, len(safePostSuffixes))
	copy(out, safePostSuffixes)
	return out
}
