package adapter

// Profile is the normalized user identity record returned uniformly across
// providers.  Identifier is the provider-scoped unique user id and is always
// set by adapters; every other field is optional and may be empty.  A Profile
// is constructed fresh on each Profile() call from stored, validated data and
// is never persisted by the adapters themselves.
type Profile struct {
	Identifier  string
	FirstName   string
	LastName    string
	DisplayName string
	Email       string
	PhotoURL    string
	ProfileURL  string
}

// Contact is a single entry from a provider's contact list.
type Contact struct {
	Identifier  string
	DisplayName string
	Email       string
	PhotoURL    string
	ProfileURL  string
}

// Page is a page or organization the user manages at the provider.
type Page struct {
	Identifier  string
	DisplayName string
	ProfileURL  string
}

// Activity is a single entry from a user's activity stream at the provider.
type Activity struct {
	Identifier       string
	Text             string
	AuthorIdentifier string
	AuthorName       string
}

// Redirect instructs the host application to send the user-agent to URL to
// continue an authentication flow.
type Redirect struct {
	URL string
}
