package simulate

import "errors"

// ErrVerification is returned when the server's state breaks an expected property.
var ErrVerification = errors.New("verification failed")
