package extraction

import "errors"

// Admission errors. The controller maps these to HTTP statuses; everything
// else surfacing from Start is a 500.
var (
	ErrUserIDRequired    = errors.New("user_id is required")
	ErrAlreadyRunning    = errors.New("extraction already in progress")
	ErrInvalidDateFormat = errors.New("invalid date format, expected YYYY-MM-DD")
	ErrStartAfterEnd     = errors.New("start date is after end date")
	ErrStartInFuture     = errors.New("start date is in the future")
	ErrRangeTooLarge     = errors.New("date range exceeds 90 days")
	ErrNoCredentials     = errors.New("no mail credentials configured for this user")
	ErrNoEmployees       = errors.New("no employee records found")
	ErrNoProjects        = errors.New("no project records found")
)
