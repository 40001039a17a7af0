package auth

// LoginPageData is what the login form needs to render.
type LoginPageData struct {
	CSRFToken string

	// ProcessingURL is the form action.
	ProcessingURL string

	// ChallengeImageURL serves the image code; ChallengeParameter is its
	// answer field.
	ChallengeImageURL  string
	ChallengeParameter string

	RememberMeParameter string

	// Next is the originally requested path, echoed back on submit.
	Next string

	Username string
	Error    string
	Notice   string
}
