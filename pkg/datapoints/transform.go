package datapoints

import (
	"fmt"
	"time"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

// DefaultTimeShift is the window the timeshift transform moves points by
// when no other shift is given.
const DefaultTimeShift = 168 * time.Hour

// Transform rewrites one datapoint on its way to the destination.
type Transform func(cdf.Datapoint) cdf.Datapoint

// New returns the named transform. The value parameterizes it: addend
// for "offset", factor for "scale", millisecond shift for "timeshift"
// (zero means DefaultTimeShift). "none" and the empty name return nil.
func New(name string, value float64) (Transform, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "offset":
		return ValueOffset(value), nil
	case "scale":
		return ValueScale(value), nil
	case "timeshift":
		if value == 0 {
			return TimeShift(DefaultTimeShift), nil
		}
		return TimeShift(time.Duration(value) * time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown datapoint transform %q", name)
	}
}

// TimeShift moves every datapoint forward by d.
func TimeShift(d time.Duration) Transform {
	ms := d.Milliseconds()
	return func(dp cdf.Datapoint) cdf.Datapoint {
		dp.Timestamp += ms
		return dp
	}
}

// ValueOffset adds delta to every value.
func ValueOffset(delta float64) Transform {
	return func(dp cdf.Datapoint) cdf.Datapoint {
		dp.Value += delta
		return dp
	}
}

// ValueScale multiplies every value by factor.
func ValueScale(factor float64) Transform {
	return func(dp cdf.Datapoint) cdf.Datapoint {
		dp.Value *= factor
		return dp
	}
}
