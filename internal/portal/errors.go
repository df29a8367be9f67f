package portal

import "errors"

var (
	// ErrFormNotFound means the login page HTML had no <form>.
	ErrFormNotFound = errors.New("portal: login form not found")

	// ErrEmptyResponse means a 2xx data endpoint answered with a blank body.
	ErrEmptyResponse = errors.New("portal: empty response body")

	// ErrCaptchaDownload means the captcha image could not be fetched.
	ErrCaptchaDownload = errors.New("portal: captcha download failed")

	// ErrCaptchaUnsolvable means the solver failed on the final login
	// attempt; earlier solver failures just burn an attempt.
	ErrCaptchaUnsolvable = errors.New("portal: captcha could not be solved")

	// ErrCredentialsRejected means every login attempt came back with the
	// login box still present.
	ErrCredentialsRejected = errors.New("portal: credentials rejected")
)
