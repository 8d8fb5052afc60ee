package templates

// BaseProps contains common properties shared across all pages
type BaseProps struct {
	Title     string
	CSRFToken string
}

// ErrorPageProps contains properties for the error page
type ErrorPageProps struct {
	BaseProps
	Error   string
	Message string
}

// LoginPageProps contains properties for the login page
type LoginPageProps struct {
	BaseProps
	Error    string
	Username string
	ReturnTo string
}

// SignedOutPageProps contains properties for the page shown after end session
type SignedOutPageProps struct {
	BaseProps
}

// Claim is one row of a claims table.
type Claim struct {
	Name  string
	Value string
}

// HomePageProps contains properties for the web client landing page
type HomePageProps struct {
	BaseProps
	SignedIn bool
	Subject  string
	Claims   []Claim
	Scope    string
}

// APIPageProps contains properties for the web client API call result
type APIPageProps struct {
	BaseProps
	Endpoint string
	Status   int
	Body     string
}
