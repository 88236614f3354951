package routes

// Route describes a fixed campus shuttle route.
type Route struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Color string   `json:"color"`
	Stops []string `json:"stops"`
}

// Registry holds the known routes. Route identity flows through the rest of
// the system as the ID string, but display names, colors and stop lists
// live here instead of being string-matched at call sites.
var Registry = []Route{
	{
		ID:    "lh-prp",
		Name:  "LH/PRP Route",
		Color: "#007AFF",
		Stops: []string{"Main Gate", "LH Block", "Cafeteria", "Library", "PRP Block", "Sports Complex", "Hostel"},
	},
	{
		ID:    "mh",
		Name:  "MH Route",
		Color: "#FF9500",
		Stops: []string{"Main Gate", "MH Block", "Auditorium", "Parking"},
	},
}

// Lookup returns the route with the given ID, or nil if unknown.
func Lookup(id string) *Route {
	for i := range Registry {
		if Registry[i].ID == id {
			return &Registry[i]
		}
	}
	return nil
}

// Valid reports whether id names a known route.
func Valid(id string) bool {
	return Lookup(id) != nil
}

// IDs returns the IDs of all known routes.
func IDs() []string {
	ids := make([]string, 0, len(Registry))
	for _, r := range Registry {
		ids = append(ids, r.ID)
	}
	return ids
}
