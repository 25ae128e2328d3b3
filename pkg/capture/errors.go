// ABOUTME: Capture engine error values
// ABOUTME: Timestamp regressions carry both the previous and observed stamps
package capture

import (
	"errors"
	"fmt"

	"github.com/Wavebridge-Audio/wavebridge-go/pkg/clock"
)

// ErrInvalidState means a lifecycle call arrived in the wrong engine state,
// e.g. Start before Initialize or a second Start without a Stop.
var ErrInvalidState = errors.New("capture: invalid engine state")

// ErrSpeechProcessingUnavailable is returned by backends that have no
// speech signal-processing profile. The engine logs it and continues.
var ErrSpeechProcessingUnavailable = errors.New("capture: speech processing unavailable")

// TimestampRegressionError reports an out-of-order pipeline timestamp when
// the engine is configured to treat regressions as fatal. Clock-drift
// corrections during long captures make this expected, not exceptional;
// set Config.DropOutOfOrder to drop such buffers instead.
type TimestampRegressionError struct {
	Previous clock.Ticks
	Observed clock.Ticks
}

func (e *TimestampRegressionError) Error() string {
	return fmt.Sprintf("capture: timestamp regression: observed %d before previous %d",
		e.Observed, e.Previous)
}
