package abuse

import "errors"

// ErrReviewerBlocked rejects ratings from a reviewer whose recent behaviour
// judged abusive.
var ErrReviewerBlocked = errors.New("reviewer blocked for abusive review patterns")
