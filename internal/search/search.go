package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultClient      ResultType = "client"
	ResultNote        ResultType = "note"
	ResultAppointment ResultType = "appointment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	ClientID    string     `json:"clientId"`
	TherapistID string     `json:"therapistId"`
}

// Query describes a search request. TherapistID is mandatory; search never
// crosses practice boundaries.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	TherapistID    string
	FilterClientID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexClient(c ClientRecord) error
	IndexNote(n NoteRecord) error
	IndexAppointment(a AppointmentRecord) error
	DeleteClient(id string) error
	DeleteNote(id string) error
	DeleteAppointment(id string) error
}

// ClientRecord is the data we index for a client.
type ClientRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Status      string `json:"status"`
	TherapistID string `json:"therapistId"`
}

// NoteRecord is the data we index for a session note.
type NoteRecord struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Summary     string `json:"summary"`
	ClientID    string `json:"clientId"`
	ClientName  string `json:"clientName"`
	TherapistID string `json:"therapistId"`
	SessionDate string `json:"sessionDate"`
}

// AppointmentRecord is the data we index for an appointment.
type AppointmentRecord struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Location    string `json:"location"`
	Notes       string `json:"notes"`
	ClientID    string `json:"clientId"`
	ClientName  string `json:"clientName"`
	TherapistID string `json:"therapistId"`
	StartTime   string `json:"startTime"`
}
