package admin

import "errors"

var errTrackingDisabled = errors.New("connection tracking is disabled for this pool")
