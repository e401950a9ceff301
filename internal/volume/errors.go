package volume

import "errors"

// Invalid-argument errors are the only errors the engine returns to callers.
var (
	ErrInvalidStream         = errors.New("invalid stream type")
	ErrInvalidDirection      = errors.New("invalid adjustment direction")
	ErrInvalidRingerMode     = errors.New("invalid ringer mode")
	ErrInvalidDevice         = errors.New("invalid device class")
	ErrInvalidVibrateSetting = errors.New("invalid vibrate setting")
)
